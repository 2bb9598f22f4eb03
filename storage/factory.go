package storage

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/ruteri/iot-device-provisioning/interfaces"
)

// ErrInvalidLocationURI is returned when a sink location URI is malformed or unsupported.
var ErrInvalidLocationURI = errors.New("invalid sink location URI")

// SinkFactory creates sinks from location URIs. Remote clients and the
// registration secret are injected once and shared by the sinks it creates.
type SinkFactory struct {
	log                *slog.Logger
	s3Client           s3iface.S3API
	vaultWriter        VaultWriter
	vaultAddress       string
	httpClient         *http.Client
	registrationSecret string
}

// NewSinkFactory creates a new factory instance.
func NewSinkFactory(logger *slog.Logger) *SinkFactory {
	if logger == nil {
		logger = slog.Default()
	}
	return &SinkFactory{log: logger}
}

// WithS3Client sets the client used by s3:// sinks.
func (sf *SinkFactory) WithS3Client(client s3iface.S3API) *SinkFactory {
	sf.s3Client = client
	return sf
}

// WithVault sets the writer and address used by vault:// sinks.
func (sf *SinkFactory) WithVault(writer VaultWriter, address string) *SinkFactory {
	sf.vaultWriter = writer
	sf.vaultAddress = address
	return sf
}

// WithHTTPClient sets the client used by registration API sinks.
func (sf *SinkFactory) WithHTTPClient(client *http.Client) *SinkFactory {
	sf.httpClient = client
	return sf
}

// WithRegistrationSecret sets the shared secret submitted by registration API sinks.
func (sf *SinkFactory) WithRegistrationSecret(secret string) *SinkFactory {
	sf.registrationSecret = secret
	return sf
}

// FileLocation returns the location URI of a local output directory. Relative
// directories are made absolute so that SinkFor maps the URI back to exactly dir.
func FileLocation(dir string) string {
	if abs, err := filepath.Abs(dir); err == nil {
		dir = abs
	}
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(dir)}).String()
}

// S3Location returns the location URI of a bucket and optional key prefix.
func S3Location(bucket, prefix string) string {
	return (&url.URL{Scheme: "s3", Host: bucket, Path: "/" + strings.Trim(prefix, "/")}).String()
}

// VaultLocation returns the location URI of a KV v2 mount and data path.
func VaultLocation(mount, dataPath string) string {
	return (&url.URL{Scheme: "vault", Host: strings.Trim(mount, "/"), Path: "/" + strings.Trim(dataPath, "/")}).String()
}

// SinkFor creates a sink from a location URI.
//
// Supported schemes:
//   - file://./relative/dir or file:///absolute/dir - FileSink
//   - s3://bucket/[prefix] - S3Sink, objects keyed by device name when prefix is empty
//   - vault://mount/[path] - VaultSink
//   - http(s)://host/path - RegistrationSink posting to that URL
func (sf *SinkFactory) SinkFor(location string) (interfaces.Sink, error) {
	u, err := url.Parse(location)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidLocationURI, err)
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" && (u.RawQuery != "" || u.Fragment != "" || u.ForceQuery) {
		return nil, fmt.Errorf("%w: unescaped '?' or '#' in %s", ErrInvalidLocationURI, location)
	}

	switch scheme {
	case "file":
		return sf.createFileSink(u)
	case "s3":
		return sf.createS3Sink(u)
	case "vault":
		return sf.createVaultSink(u)
	case "http", "https":
		return sf.createRegistrationSink(u)
	default:
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidLocationURI, u.Scheme)
	}
}

// SinksFor creates one sink per location, in order. Any invalid location fails the
// whole call so a run never starts with fewer sinks than requested.
func (sf *SinkFactory) SinksFor(locations []string) ([]interfaces.Sink, error) {
	sinks := make([]interfaces.Sink, 0, len(locations))
	for _, location := range locations {
		sink, err := sf.SinkFor(location)
		if err != nil {
			return nil, fmt.Errorf("could not create sink for %s: %w", redactLocation(location), err)
		}
		sinks = append(sinks, sink)
	}
	return sinks, nil
}

// createFileSink creates a file system sink.
// URI format: file:///absolute/path/ or file://./relative/path/
func (sf *SinkFactory) createFileSink(u *url.URL) (interfaces.Sink, error) {
	sf.log.Debug("Creating file sink", slog.String("uri", u.String()))

	path := u.Path
	if u.Host != "" {
		path = u.Host + "/" + strings.TrimPrefix(path, "/")
	}

	if path == "" {
		return nil, fmt.Errorf("%w: empty path in file URI %s", ErrInvalidLocationURI, u.String())
	}

	return NewFileSink(filepath.FromSlash(path), sf.log), nil
}

// createS3Sink creates an S3 sink.
// URI format: s3://bucket-name/optional/prefix
func (sf *SinkFactory) createS3Sink(u *url.URL) (interfaces.Sink, error) {
	sf.log.Debug("Creating S3 sink", slog.String("uri", u.String()))

	if u.Host == "" {
		return nil, fmt.Errorf("%w: missing bucket in %s", ErrInvalidLocationURI, u.String())
	}
	if sf.s3Client == nil {
		return nil, errors.New("s3 client not configured")
	}

	return NewS3Sink(sf.s3Client, u.Host, strings.Trim(u.Path, "/"), sf.log), nil
}

// createVaultSink creates a Vault KV v2 sink.
// URI format: vault://mount/optional/path
func (sf *SinkFactory) createVaultSink(u *url.URL) (interfaces.Sink, error) {
	sf.log.Debug("Creating Vault sink", slog.String("uri", u.String()))

	if u.Host == "" {
		return nil, fmt.Errorf("%w: missing mount in %s", ErrInvalidLocationURI, u.String())
	}
	if sf.vaultWriter == nil {
		return nil, errors.New("vault client not configured")
	}

	return NewVaultSink(sf.vaultWriter, sf.vaultAddress, u.Host, strings.Trim(u.Path, "/"), sf.log), nil
}

// createRegistrationSink creates a registration API sink posting to the URI itself.
func (sf *SinkFactory) createRegistrationSink(u *url.URL) (interfaces.Sink, error) {
	sf.log.Debug("Creating registration API sink", slog.String("uri", u.String()))

	if u.User != nil {
		return nil, fmt.Errorf("%w: credentials must not be embedded in the registration URL", ErrInvalidLocationURI)
	}

	return NewRegistrationSink(u.String(), sf.registrationSecret, sf.httpClient, sf.log)
}

func redactLocation(location string) string {
	u, err := url.Parse(location)
	if err != nil || u.User == nil {
		return location
	}
	return u.Redacted()
}
