package storage

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hashicorp/vault/api"
	"github.com/ruteri/iot-device-provisioning/interfaces"
)

// VaultWriter is the part of *api.Logical the Vault sink uses.
type VaultWriter interface {
	WriteWithContext(ctx context.Context, path string, data map[string]interface{}) (*api.Secret, error)
}

// VaultSink implements a sink using HashiCorp Vault KV v2.
// The whole bundle is one secret version, so a write is all-or-nothing.
type VaultSink struct {
	writer      VaultWriter
	mountPath   string
	dataPath    string
	log         *slog.Logger
	locationURI string
}

// NewVaultClient creates a Vault client. Address and token default to VAULT_ADDR and
// VAULT_TOKEN from the environment, as read by api.DefaultConfig.
func NewVaultClient(address string) (*api.Client, error) {
	config := api.DefaultConfig()
	if config.Error != nil {
		return nil, fmt.Errorf("failed to read Vault environment: %w", config.Error)
	}
	if address != "" {
		config.Address = address
	}

	client, err := api.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}
	return client, nil
}

// NewVaultSink creates a Vault sink storing bundles at <mountPath>/data/<dataPath>/<device>.
//
// Parameters:
//   - writer: usually client.Logical()
//   - address: Vault address, only used for LocationURI
//   - mountPath: KV v2 mount (e.g. "secret")
//   - dataPath: path within the mount (e.g. "iot/devices")
func NewVaultSink(writer VaultWriter, address, mountPath, dataPath string, log *slog.Logger) *VaultSink {
	if log == nil {
		log = slog.Default()
	}

	mountPath = strings.Trim(mountPath, "/")
	dataPath = strings.Trim(dataPath, "/")

	return &VaultSink{
		writer:      writer,
		mountPath:   mountPath,
		dataPath:    dataPath,
		log:         log,
		locationURI: fmt.Sprintf("vault://%s/%s/%s", strings.TrimPrefix(strings.TrimPrefix(address, "https://"), "http://"), mountPath, dataPath),
	}
}

// SecretPath returns the KV v2 API path of a device's bundle.
func (s *VaultSink) SecretPath(deviceName string) string {
	if s.dataPath == "" {
		return fmt.Sprintf("%s/data/%s", s.mountPath, deviceName)
	}
	return fmt.Sprintf("%s/data/%s/%s", s.mountPath, s.dataPath, deviceName)
}

// Write stores all artifacts as fields of one secret keyed by artifact filename.
func (s *VaultSink) Write(ctx context.Context, identity interfaces.DeviceIdentity, bundle *interfaces.CredentialBundle, metadata interfaces.ConnectionMetadata) error {
	start := time.Now()

	artifacts, err := interfaces.ArtifactSet(identity, bundle, metadata)
	if err != nil {
		return fmt.Errorf("refusing to write incomplete bundle: %w", err)
	}

	content := make(map[string]interface{}, len(artifacts))
	for _, artifact := range artifacts {
		content[artifact.Filename] = string(artifact.Data)
	}
	if identity.Environment != interfaces.EnvNone {
		content["environment"] = identity.Environment.String()
	}

	secretPath := s.SecretPath(identity.Name)
	secretData := map[string]interface{}{
		"data": content,
	}

	if _, err := s.writer.WriteWithContext(ctx, secretPath, secretData); err != nil {
		s.log.Error("Failed to write to Vault",
			slog.String("path", secretPath),
			"err", err)
		return &interfaces.RemoteError{Stage: interfaces.StageDistributed, Target: "vault:" + secretPath, Err: err}
	}

	s.log.Debug("Stored bundle in Vault",
		slog.String("path", secretPath),
		slog.Duration("duration", time.Since(start)))

	return nil
}

// Name returns a unique identifier for this sink.
func (s *VaultSink) Name() string {
	return fmt.Sprintf("vault-%s", s.mountPath)
}

// LocationURI returns the URI that identifies this sink.
func (s *VaultSink) LocationURI() string {
	return s.locationURI
}
