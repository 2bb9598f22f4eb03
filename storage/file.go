package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ruteri/iot-device-provisioning/interfaces"
)

const (
	dirPerm       = 0o755
	artifactPerm  = 0o644
	sensitivePerm = 0o600
)

// FileSink implements a sink using the local file system.
// Every artifact is a separate file in one directory; writes are not transactional
// across files.
type FileSink struct {
	baseDir     string
	log         *slog.Logger
	locationURI string
}

// NewFileSink creates a file sink writing into baseDir. The directory is created on
// first write.
func NewFileSink(baseDir string, log *slog.Logger) *FileSink {
	if log == nil {
		log = slog.Default()
	}
	return &FileSink{
		baseDir:     baseDir,
		log:         log,
		locationURI: fmt.Sprintf("file://%s", baseDir),
	}
}

// Write saves all five artifacts. Private keys are written owner-readable only.
func (s *FileSink) Write(ctx context.Context, identity interfaces.DeviceIdentity, bundle *interfaces.CredentialBundle, metadata interfaces.ConnectionMetadata) error {
	start := time.Now()

	artifacts, err := interfaces.ArtifactSet(identity, bundle, metadata)
	if err != nil {
		return fmt.Errorf("refusing to write incomplete bundle: %w", err)
	}

	if err := os.MkdirAll(s.baseDir, dirPerm); err != nil {
		return &interfaces.IOError{Path: s.baseDir, Err: err}
	}

	for _, artifact := range artifacts {
		if err := ctx.Err(); err != nil {
			return err
		}
		filePath := filepath.Join(s.baseDir, artifact.Filename)
		perm := fs.FileMode(artifactPerm)
		if artifact.Kind.Sensitive() {
			perm = sensitivePerm
		}
		if err := writeArtifact(filePath, artifact.Data, perm); err != nil {
			s.log.Error("Failed to write artifact",
				slog.String("path", filePath),
				slog.String("artifact", artifact.Kind.String()),
				"err", err)
			return &interfaces.IOError{Path: filePath, Err: err}
		}
	}

	s.log.Debug("Stored bundle in directory",
		slog.String("thing_name", identity.Name),
		slog.String("path", s.baseDir),
		slog.Duration("duration", time.Since(start)))

	return nil
}

// Name returns a unique identifier for this sink.
func (s *FileSink) Name() string {
	return "local"
}

// LocationURI returns the URI that identifies this sink.
func (s *FileSink) LocationURI() string {
	return s.locationURI
}

// writeArtifact writes data and always closes the handle, reporting a close error
// when the write itself succeeded.
func writeArtifact(filePath string, data []byte, perm fs.FileMode) (err error) {
	f, err := os.OpenFile(filePath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	// The file may predate this run with looser permissions.
	if err = f.Chmod(perm); err != nil {
		return err
	}
	_, err = f.Write(data)
	return err
}

// SaveCredentials writes only the certificate and key pair of a device into dir.
// It is the last-resort copy for a run that issued credentials but could not
// assemble the connection metadata every sink needs.
func SaveCredentials(dir string, identity interfaces.DeviceIdentity, bundle *interfaces.CredentialBundle) ([]string, error) {
	if err := bundle.ValidateArtifacts(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return nil, &interfaces.IOError{Path: dir, Err: err}
	}

	contents := map[interfaces.ArtifactKind]string{
		interfaces.ArtifactCertificate: bundle.CertificatePEM,
		interfaces.ArtifactPrivateKey:  bundle.PrivateKey,
		interfaces.ArtifactPublicKey:   bundle.PublicKey,
	}

	var paths []string
	for _, kind := range credentialKinds {
		filePath := filepath.Join(dir, kind.Filename(identity.Name))
		if err := writeArtifact(filePath, []byte(contents[kind]), sensitivePerm); err != nil {
			return paths, &interfaces.IOError{Path: filePath, Err: err}
		}
		paths = append(paths, filePath)
	}
	return paths, nil
}

var credentialKinds = []interfaces.ArtifactKind{
	interfaces.ArtifactCertificate,
	interfaces.ArtifactPrivateKey,
	interfaces.ArtifactPublicKey,
}

func readArtifact(dir, deviceName string, kind interfaces.ArtifactKind) (string, error) {
	filePath := filepath.Join(dir, kind.Filename(deviceName))
	data, err := os.ReadFile(filePath)
	if errors.Is(err, fs.ErrNotExist) {
		return "", &interfaces.IOError{Path: filePath, Err: fmt.Errorf("%w: %s", interfaces.ErrArtifactMissing, kind)}
	}
	if err != nil {
		return "", &interfaces.IOError{Path: filePath, Err: err}
	}
	if len(data) == 0 {
		return "", &interfaces.IOError{Path: filePath, Err: fmt.Errorf("%w: %s is empty", interfaces.ErrArtifactMissing, kind)}
	}
	return string(data), nil
}

// LoadCredentials reads the certificate and key pair of deviceName from dir.
// The certificate ARN is not persisted, so the returned bundle has none.
func LoadCredentials(dir, deviceName string) (*interfaces.CredentialBundle, error) {
	contents := make(map[interfaces.ArtifactKind]string, len(credentialKinds))
	for _, kind := range credentialKinds {
		content, err := readArtifact(dir, deviceName, kind)
		if err != nil {
			return nil, err
		}
		contents[kind] = content
	}
	return &interfaces.CredentialBundle{
		CertificatePEM: contents[interfaces.ArtifactCertificate],
		PrivateKey:     contents[interfaces.ArtifactPrivateKey],
		PublicKey:      contents[interfaces.ArtifactPublicKey],
	}, nil
}

// LoadMetadata reads the root certificate and endpoint document from dir.
func LoadMetadata(dir string) (interfaces.ConnectionMetadata, error) {
	rootCA, err := readArtifact(dir, "", interfaces.ArtifactRootCA)
	if err != nil {
		return interfaces.ConnectionMetadata{}, err
	}
	endpointDoc, err := readArtifact(dir, "", interfaces.ArtifactEndpoint)
	if err != nil {
		return interfaces.ConnectionMetadata{}, err
	}
	endpoint, err := interfaces.ParseEndpointDocument([]byte(endpointDoc))
	if err != nil {
		return interfaces.ConnectionMetadata{}, &interfaces.IOError{
			Path: filepath.Join(dir, interfaces.EndpointFilename),
			Err:  err,
		}
	}
	return interfaces.ConnectionMetadata{
		RootCertificatePEM: rootCA,
		RegistryEndpoint:   endpoint,
	}, nil
}

// LoadBundle reads a complete bundle previously written by a FileSink for deviceName.
// Every artifact must be present; a missing one fails with interfaces.ErrArtifactMissing.
func LoadBundle(dir, deviceName string) (*interfaces.CredentialBundle, interfaces.ConnectionMetadata, error) {
	bundle, err := LoadCredentials(dir, deviceName)
	if err != nil {
		return nil, interfaces.ConnectionMetadata{}, err
	}
	metadata, err := LoadMetadata(dir)
	if err != nil {
		return nil, interfaces.ConnectionMetadata{}, err
	}
	return bundle, metadata, nil
}
