package interfaces

import (
	"errors"
	"fmt"
)

// RootCAFilename is the fixed name of the root trust certificate artifact.
const RootCAFilename = "AmazonRootCA1.pem"

// EndpointFilename is the fixed name of the endpoint metadata artifact.
const EndpointFilename = "endpoint_url.json"

// ArtifactKind identifies one file of a device bundle.
type ArtifactKind int

const (
	ArtifactCertificate ArtifactKind = iota
	ArtifactPrivateKey
	ArtifactPublicKey
	ArtifactRootCA
	ArtifactEndpoint
)

// AllArtifactKinds is the complete set every sink has to persist.
var AllArtifactKinds = []ArtifactKind{
	ArtifactCertificate,
	ArtifactPrivateKey,
	ArtifactPublicKey,
	ArtifactRootCA,
	ArtifactEndpoint,
}

func (k ArtifactKind) String() string {
	switch k {
	case ArtifactCertificate:
		return "certificate"
	case ArtifactPrivateKey:
		return "private_key"
	case ArtifactPublicKey:
		return "public_key"
	case ArtifactRootCA:
		return "root_ca"
	case ArtifactEndpoint:
		return "endpoint"
	default:
		return "unknown"
	}
}

// Sensitive reports whether the artifact must be stored with restricted permissions.
func (k ArtifactKind) Sensitive() bool {
	return k == ArtifactPrivateKey
}

// Filename returns the persisted name of an artifact for the given device.
func (k ArtifactKind) Filename(deviceName string) string {
	switch k {
	case ArtifactCertificate:
		return deviceName + ".cert.pem"
	case ArtifactPrivateKey:
		return deviceName + ".private.pem.key"
	case ArtifactPublicKey:
		return deviceName + ".public.pem.key"
	case ArtifactRootCA:
		return RootCAFilename
	case ArtifactEndpoint:
		return EndpointFilename
	default:
		return fmt.Sprintf("%s.%d", deviceName, int(k))
	}
}

// Artifact is one named file of a device bundle.
type Artifact struct {
	Kind     ArtifactKind
	Filename string
	Data     []byte
}

// ArtifactSet serializes a bundle and its metadata into the five persisted artifacts.
// It fails if any input is incomplete, so a sink can never persist a subset.
func ArtifactSet(identity DeviceIdentity, bundle *CredentialBundle, metadata ConnectionMetadata) ([]Artifact, error) {
	if identity.Name == "" {
		return nil, errors.New("device name is required")
	}
	if err := bundle.ValidateArtifacts(); err != nil {
		return nil, err
	}
	if err := metadata.Validate(); err != nil {
		return nil, err
	}
	endpointDoc, err := EndpointDocument(metadata.RegistryEndpoint)
	if err != nil {
		return nil, fmt.Errorf("could not encode endpoint document: %w", err)
	}

	data := map[ArtifactKind][]byte{
		ArtifactCertificate: []byte(bundle.CertificatePEM),
		ArtifactPrivateKey:  []byte(bundle.PrivateKey),
		ArtifactPublicKey:   []byte(bundle.PublicKey),
		ArtifactRootCA:      []byte(metadata.RootCertificatePEM),
		ArtifactEndpoint:    endpointDoc,
	}

	artifacts := make([]Artifact, 0, len(AllArtifactKinds))
	for _, kind := range AllArtifactKinds {
		artifacts = append(artifacts, Artifact{
			Kind:     kind,
			Filename: kind.Filename(identity.Name),
			Data:     data[kind],
		})
	}
	return artifacts, nil
}
