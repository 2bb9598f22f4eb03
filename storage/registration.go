package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/ruteri/iot-device-provisioning/interfaces"
)

// Multipart field names of the registration API.
const (
	FieldDeviceID   = "device_id"
	FieldSecret     = "secret"
	FieldPrivateKey = "private_key"
	FieldPublicKey  = "public_key"
	FieldCert       = "cert"
)

// maxResponseSize bounds how much of a response body is read.
const maxResponseSize = 1 << 20

// ErrMissingSecret is returned when the registration sink is configured without a shared secret.
var ErrMissingSecret = errors.New("provisioning secret is not set")

// APIError is a non-success response from the registration API.
type APIError struct {
	StatusCode int
	// Body is the parsed JSON response body, nil when it was not JSON.
	Body map[string]any
	// Raw is the response body as received.
	Raw string
}

func (e *APIError) Error() string {
	if e.Body != nil {
		encoded, _ := json.Marshal(e.Body)
		return fmt.Sprintf("registration endpoint returned error %d: %s", e.StatusCode, encoded)
	}
	if e.Raw != "" {
		return fmt.Sprintf("registration endpoint returned error %d: %s", e.StatusCode, e.Raw)
	}
	return fmt.Sprintf("registration endpoint returned non-2xx response: %d", e.StatusCode)
}

// RegistrationSink submits the device credentials to the backend registration API
// in one multipart request.
type RegistrationSink struct {
	url    string
	secret string
	client *http.Client
	log    *slog.Logger
}

// NewRegistrationSink creates a registration sink. The secret comes from process
// configuration, never from command-line input.
func NewRegistrationSink(url, secret string, client *http.Client, log *slog.Logger) (*RegistrationSink, error) {
	if url == "" {
		return nil, errors.New("registration url is required")
	}
	if secret == "" {
		return nil, ErrMissingSecret
	}
	if client == nil {
		client = cleanhttp.DefaultClient()
	}
	if log == nil {
		log = slog.Default()
	}
	return &RegistrationSink{
		url:    url,
		secret: secret,
		client: client,
		log:    log,
	}, nil
}

// Write posts the certificate and key pair. Any non-2xx status is returned as
// *interfaces.RemoteError wrapping *APIError.
func (s *RegistrationSink) Write(ctx context.Context, identity interfaces.DeviceIdentity, bundle *interfaces.CredentialBundle, metadata interfaces.ConnectionMetadata) error {
	start := time.Now()

	artifacts, err := interfaces.ArtifactSet(identity, bundle, metadata)
	if err != nil {
		return fmt.Errorf("refusing to submit incomplete bundle: %w", err)
	}

	body, contentType, err := s.encodeForm(identity, artifacts)
	if err != nil {
		return fmt.Errorf("could not encode registration form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, body)
	if err != nil {
		return &interfaces.RemoteError{Stage: interfaces.StageDistributed, Target: s.url, Err: err}
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return &interfaces.RemoteError{
			Stage:  interfaces.StageDistributed,
			Target: s.url,
			Err:    fmt.Errorf("could not request registration endpoint: %w", err),
		}
	}
	defer resp.Body.Close()

	respBody, readErr := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if readErr == nil {
			apiErr.Raw = string(respBody)
			var parsed map[string]any
			if json.Unmarshal(respBody, &parsed) == nil {
				apiErr.Body = parsed
			}
		}
		s.log.Error("Registration endpoint rejected device",
			slog.String("thing_name", identity.Name),
			slog.String("url", s.url),
			slog.Int("status", resp.StatusCode))
		return &interfaces.RemoteError{Stage: interfaces.StageDistributed, Target: s.url, Err: apiErr}
	}

	if readErr != nil {
		return &interfaces.RemoteError{
			Stage:  interfaces.StageDistributed,
			Target: s.url,
			Err:    fmt.Errorf("could not read registration response: %w", readErr),
		}
	}

	var parsed map[string]any
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		// The device is registered either way; the body is informational.
		s.log.Warn("Registration response is not JSON",
			slog.String("url", s.url),
			"err", err)
	}

	s.log.Debug("Submitted device to registration endpoint",
		slog.String("thing_name", identity.Name),
		slog.String("url", s.url),
		slog.Int("status", resp.StatusCode),
		slog.Duration("duration", time.Since(start)))

	return nil
}

func (s *RegistrationSink) encodeForm(identity interfaces.DeviceIdentity, artifacts []interfaces.Artifact) (io.Reader, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	if err := writer.WriteField(FieldDeviceID, identity.Name); err != nil {
		return nil, "", err
	}
	if err := writer.WriteField(FieldSecret, s.secret); err != nil {
		return nil, "", err
	}

	parts := map[interfaces.ArtifactKind]string{
		interfaces.ArtifactPrivateKey:  FieldPrivateKey,
		interfaces.ArtifactPublicKey:   FieldPublicKey,
		interfaces.ArtifactCertificate: FieldCert,
	}
	for _, artifact := range artifacts {
		field, ok := parts[artifact.Kind]
		if !ok {
			continue
		}
		part, err := writer.CreateFormFile(field, artifact.Filename)
		if err != nil {
			return nil, "", err
		}
		if _, err := part.Write(artifact.Data); err != nil {
			return nil, "", err
		}
	}

	if err := writer.Close(); err != nil {
		return nil, "", err
	}
	return &buf, writer.FormDataContentType(), nil
}

// Name returns a unique identifier for this sink.
func (s *RegistrationSink) Name() string {
	return "registration-api"
}

// LocationURI returns the URI that identifies this sink.
func (s *RegistrationSink) LocationURI() string {
	return s.url
}
