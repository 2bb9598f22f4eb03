package interfaces

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Environment is the deployment stage a device is provisioned for.
type Environment string

const (
	// EnvNone means the run is not environment-aware.
	EnvNone    Environment = ""
	EnvDev     Environment = "dev"
	EnvStaging Environment = "staging"
	EnvProd    Environment = "prod"
)

// Environments lists the accepted environment values in display order.
var Environments = []Environment{EnvDev, EnvStaging, EnvProd}

// ParseEnvironment validates an environment name. The empty string yields EnvNone.
func ParseEnvironment(s string) (Environment, error) {
	switch env := Environment(strings.ToLower(strings.TrimSpace(s))); env {
	case EnvNone, EnvDev, EnvStaging, EnvProd:
		return env, nil
	default:
		return EnvNone, fmt.Errorf("invalid environment %q: must be one of dev, staging, prod", s)
	}
}

func (e Environment) String() string {
	return string(e)
}

// DeviceIdentity is the caller input for one provisioning run. It is never mutated.
type DeviceIdentity struct {
	// Name is the thing name, unique within the registry.
	Name string
	// Environment is optional; when set it is attached to the thing as an attribute.
	Environment Environment
	// PolicyName is the authorization policy attached to the issued certificate.
	PolicyName string
	// ThingType is an optional registry thing type.
	ThingType string
}

// Validate checks that the identity can be sent to the registry.
func (d DeviceIdentity) Validate() error {
	if d.Name == "" {
		return errors.New("device name is required")
	}
	if strings.ContainsAny(d.Name, "/\\ ") {
		return fmt.Errorf("device name %q must not contain slashes or spaces", d.Name)
	}
	if d.PolicyName == "" {
		return fmt.Errorf("no policy resolved for device %q", d.Name)
	}
	return nil
}

// CredentialBundle holds the artifacts issued by the registry for one device.
// All four fields are populated together; a partial bundle is never returned.
type CredentialBundle struct {
	CertificatePEM string
	PrivateKey     string
	PublicKey      string
	// CertificateARN links policy and thing; it is never written to sinks.
	CertificateARN string
}

// Validate reports whether every field of the bundle is populated.
func (b *CredentialBundle) Validate() error {
	if err := b.ValidateArtifacts(); err != nil {
		return err
	}
	if b.CertificateARN == "" {
		return errors.New("incomplete credential bundle, missing: certificate arn")
	}
	return nil
}

// ValidateArtifacts checks the fields that sinks persist. A bundle loaded back from a
// sink has no certificate ARN and is still complete for distribution.
func (b *CredentialBundle) ValidateArtifacts() error {
	if b == nil {
		return errors.New("credential bundle is nil")
	}
	var missing []string
	if b.CertificatePEM == "" {
		missing = append(missing, "certificate")
	}
	if b.PrivateKey == "" {
		missing = append(missing, "private key")
	}
	if b.PublicKey == "" {
		missing = append(missing, "public key")
	}
	if len(missing) > 0 {
		return fmt.Errorf("incomplete credential bundle, missing: %s", strings.Join(missing, ", "))
	}
	return nil
}

// String never includes the private key.
func (b CredentialBundle) String() string {
	return fmt.Sprintf("CredentialBundle{certificateArn: %s, privateKey: [REDACTED]}", b.CertificateARN)
}

// LogValue keeps the private key out of structured logs.
func (b CredentialBundle) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("certificate_arn", b.CertificateARN),
		slog.Int("certificate_len", len(b.CertificatePEM)),
		slog.Int("public_key_len", len(b.PublicKey)),
		slog.String("private_key", "[REDACTED]"),
	)
}

// ConnectionMetadata is what a device needs besides its own credentials to connect.
type ConnectionMetadata struct {
	RootCertificatePEM string
	RegistryEndpoint   string
}

// Validate reports whether both metadata fields are populated.
func (m ConnectionMetadata) Validate() error {
	if m.RootCertificatePEM == "" {
		return errors.New("root certificate is empty")
	}
	if m.RegistryEndpoint == "" {
		return errors.New("registry endpoint is empty")
	}
	return nil
}

// EndpointDoc is the persisted form of the registry endpoint.
type EndpointDoc struct {
	URL string `json:"url"`
}

// EndpointDocument renders the endpoint as pretty-printed JSON.
func EndpointDocument(endpoint string) ([]byte, error) {
	data, err := json.MarshalIndent(EndpointDoc{URL: endpoint}, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// ParseEndpointDocument is the inverse of EndpointDocument.
func ParseEndpointDocument(data []byte) (string, error) {
	var doc EndpointDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return "", fmt.Errorf("could not parse endpoint document: %w", err)
	}
	if doc.URL == "" {
		return "", errors.New("endpoint document has no url")
	}
	return doc.URL, nil
}
