package trust

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockFetcher mocks the RootTrustFetcher interface
type MockFetcher struct {
	mock.Mock
}

// FetchRootCertificate mocks the FetchRootCertificate method
func (m *MockFetcher) FetchRootCertificate(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}
