// Package interfaces defines the types shared by every provisioning component.
//
// It holds the caller input (DeviceIdentity, Environment), what the registry issues
// (CredentialBundle), what a device needs to connect (ConnectionMetadata), the
// artifact naming every sink follows, and the error taxonomy. The collaborator
// contracts DeviceRegistry, RootTrustFetcher, EndpointResolver and Sink live in
// contracts.go so the orchestrator can be tested against fakes.
//
// # Artifacts
//
// Every sink persists the same five artifacts for a device named N:
//
//	N.cert.pem           certificate
//	N.private.pem.key    private key, owner-readable only on disk
//	N.public.pem.key     public key
//	AmazonRootCA1.pem    root trust certificate
//	endpoint_url.json    {"url": "<endpoint>"}
//
// # Errors
//
// ErrAlreadyExists marks a name collision. RemoteError, NetworkError and IOError
// carry the failed call; ProvisioningError is the terminal state of a run and names
// the stage it failed at.
package interfaces
