package registry

import (
	"context"

	"github.com/ruteri/iot-device-provisioning/interfaces"
	"github.com/stretchr/testify/mock"
)

// MockRegistry mocks the DeviceRegistry interface
type MockRegistry struct {
	mock.Mock
}

// RegisterDevice mocks the RegisterDevice method
func (m *MockRegistry) RegisterDevice(ctx context.Context, identity interfaces.DeviceIdentity) (*interfaces.CredentialBundle, error) {
	args := m.Called(ctx, identity)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*interfaces.CredentialBundle), args.Error(1)
}

// MockEndpointResolver mocks the EndpointResolver interface
type MockEndpointResolver struct {
	mock.Mock
}

// ResolveEndpoint mocks the ResolveEndpoint method
func (m *MockEndpointResolver) ResolveEndpoint(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}
