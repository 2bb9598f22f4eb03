// Package trust downloads the root-of-trust certificate devices use to validate the broker.
package trust

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/ruteri/iot-device-provisioning/interfaces"
)

// DefaultRootCAURL is the public distribution point of the Amazon Root CA 1 certificate.
const DefaultRootCAURL = "https://www.amazontrust.com/repository/AmazonRootCA1.pem"

// maxRootCASize bounds the body read from the distribution point.
const maxRootCASize = 1 << 20

// Fetcher implements interfaces.RootTrustFetcher with a plain GET.
// The body is returned as-is; the device validates the PEM when it connects.
type Fetcher struct {
	url    string
	client *http.Client
	log    *slog.Logger
}

// NewFetcher creates a fetcher for url, or DefaultRootCAURL when url is empty.
// A nil client means a cleanhttp client without shared global state.
func NewFetcher(url string, client *http.Client, log *slog.Logger) *Fetcher {
	if url == "" {
		url = DefaultRootCAURL
	}
	if client == nil {
		client = cleanhttp.DefaultClient()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Fetcher{
		url:    url,
		client: client,
		log:    log,
	}
}

// URL returns the distribution point this fetcher reads from.
func (f *Fetcher) URL() string {
	return f.url
}

// FetchRootCertificate downloads the root certificate. Any transport failure or
// non-200 status is returned as *interfaces.NetworkError.
func (f *Fetcher) FetchRootCertificate(ctx context.Context) (string, error) {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return "", &interfaces.NetworkError{URL: f.url, Err: err}
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return "", &interfaces.NetworkError{URL: f.url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", &interfaces.NetworkError{URL: f.url, Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRootCASize))
	if err != nil {
		return "", &interfaces.NetworkError{URL: f.url, Err: fmt.Errorf("could not read body: %w", err)}
	}
	if len(body) == 0 {
		return "", &interfaces.NetworkError{URL: f.url, Err: fmt.Errorf("empty body")}
	}

	f.log.Debug("Fetched root certificate",
		slog.String("url", f.url),
		slog.Int("size", len(body)),
		slog.Duration("duration", time.Since(start)))

	return string(body), nil
}
