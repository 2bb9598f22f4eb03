package interfaces

import "context"

// DeviceRegistry registers a device and issues its credentials.
type DeviceRegistry interface {
	// RegisterDevice fails with ErrAlreadyExists when the name is taken and with
	// *RemoteError when any registry call fails.
	RegisterDevice(ctx context.Context, identity DeviceIdentity) (*CredentialBundle, error)
}

// RootTrustFetcher retrieves the root-of-trust certificate devices validate the broker with.
type RootTrustFetcher interface {
	FetchRootCertificate(ctx context.Context) (string, error)
}

// EndpointResolver retrieves the registry's device connection endpoint.
type EndpointResolver interface {
	ResolveEndpoint(ctx context.Context) (string, error)
}

// Sink durably stores a copy of a device bundle and its connection metadata.
type Sink interface {
	// Write persists every artifact or fails. A sink never reports success for a subset.
	Write(ctx context.Context, identity DeviceIdentity, bundle *CredentialBundle, metadata ConnectionMetadata) error

	// Name returns identifier for logging.
	Name() string

	// LocationURI returns URI identifying where the bundle is written.
	LocationURI() string
}
