package storage

import (
	"context"

	"github.com/ruteri/iot-device-provisioning/interfaces"
	"github.com/stretchr/testify/mock"
)

// MockSink implements interfaces.Sink for testing
type MockSink struct {
	mock.Mock
	SinkName string
}

// Write mocks the Write method
func (m *MockSink) Write(ctx context.Context, identity interfaces.DeviceIdentity, bundle *interfaces.CredentialBundle, metadata interfaces.ConnectionMetadata) error {
	args := m.Called(ctx, identity, bundle, metadata)
	return args.Error(0)
}

// Name returns the configured sink name
func (m *MockSink) Name() string {
	return m.SinkName
}

// LocationURI returns a mock location
func (m *MockSink) LocationURI() string {
	return "mock://" + m.SinkName
}
