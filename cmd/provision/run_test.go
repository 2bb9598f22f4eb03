package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/ruteri/iot-device-provisioning/cryptoutils"
	"github.com/ruteri/iot-device-provisioning/interfaces"
	"github.com/ruteri/iot-device-provisioning/provisioner"
	"github.com/ruteri/iot-device-provisioning/registry"
	"github.com/ruteri/iot-device-provisioning/storage"
	"github.com/ruteri/iot-device-provisioning/trust"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
)

const testRootCA = "-----BEGIN CERTIFICATE-----\nroot\n-----END CERTIFICATE-----\n"

var credentialFiles = []string{
	"sensor-42.cert.pem",
	"sensor-42.private.pem.key",
	"sensor-42.public.pem.key",
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testIdentity() interfaces.DeviceIdentity {
	return interfaces.DeviceIdentity{
		Name:        "sensor-42",
		Environment: interfaces.EnvStaging,
		PolicyName:  "Soliseco-P1-Policy-Staging",
	}
}

type testRun struct {
	*run
	iot     *registry.MockIoTService
	fetcher *trust.MockFetcher
	out     *bytes.Buffer
}

func newTestRun(t *testing.T, sinks ...interfaces.Sink) *testRun {
	t.Helper()
	svc := registry.NewMockIoTService()
	fetcher := &trust.MockFetcher{}
	fetcher.On("FetchRootCertificate", mock.Anything).Return(testRootCA, nil).Maybe()
	out := &bytes.Buffer{}
	log := testLogger()

	return &testRun{
		run: &run{
			log:       log,
			out:       out,
			identity:  testIdentity(),
			outputDir: filepath.Join(t.TempDir(), "out"),
			sinks:     sinks,
			provisioner: provisioner.New(
				registry.NewIoTRegistryClient(svc, log),
				fetcher,
				registry.NewIoTEndpointResolver(svc, "", log),
				log,
			),
		},
		iot:     svc,
		fetcher: fetcher,
		out:     out,
	}
}

func mockSink(name string, err error) *storage.MockSink {
	s := &storage.MockSink{SinkName: name}
	s.On("Write", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(err)
	return s
}

func requireExitCode(t *testing.T, err error, code int) {
	t.Helper()
	var exitErr cli.ExitCoder
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, code, exitErr.ExitCode())
}

func listDir(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names
}

func TestRun_Provision(t *testing.T) {
	sinkErr := errors.New("AccessDenied")

	tests := []struct {
		name             string
		setup            func(svc *registry.MockIoTService)
		sinkErrs         []error
		expectedExit     bool
		expectedRecovery bool
		expectedWrites   int
	}{
		{
			name:           "all sinks written",
			sinkErrs:       []error{nil, nil},
			expectedWrites: 1,
		},
		{
			name:           "device already exists",
			setup:          func(svc *registry.MockIoTService) { svc.AddThing("sensor-42") },
			sinkErrs:       []error{nil},
			expectedExit:   true,
			expectedWrites: 0,
		},
		{
			name:             "endpoint unavailable after issuance",
			setup:            func(svc *registry.MockIoTService) { svc.FailOn(registry.OpDescribeEndpoint, errors.New("AccessDenied")) },
			sinkErrs:         []error{nil},
			expectedExit:     true,
			expectedRecovery: true,
			expectedWrites:   0,
		},
		{
			name:             "every sink failed",
			sinkErrs:         []error{sinkErr, sinkErr},
			expectedExit:     true,
			expectedRecovery: true,
			expectedWrites:   1,
		},
		{
			name:           "one sink holds the bundle",
			sinkErrs:       []error{sinkErr, nil},
			expectedExit:   true,
			expectedWrites: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var mocks []*storage.MockSink
			var sinks []interfaces.Sink
			for i, err := range tt.sinkErrs {
				m := mockSink([]string{"s3", "local"}[i], err)
				mocks = append(mocks, m)
				sinks = append(sinks, m)
			}
			r := newTestRun(t, sinks...)
			if tt.setup != nil {
				tt.setup(r.iot)
			}

			err := r.provision(context.Background())

			if tt.expectedExit {
				requireExitCode(t, err, 1)
			} else {
				require.NoError(t, err)
			}
			for _, m := range mocks {
				m.AssertNumberOfCalls(t, "Write", tt.expectedWrites)
			}
			assert.Contains(t, r.out.String(), "sensor-42")

			if !tt.expectedRecovery {
				assert.Empty(t, listDir(t, r.outputDir))
				return
			}
			assert.Equal(t, credentialFiles, listDir(t, r.outputDir))
			for _, name := range credentialFiles {
				info, err := os.Stat(filepath.Join(r.outputDir, name))
				require.NoError(t, err)
				assert.Equal(t, os.FileMode(0o600), info.Mode().Perm(), name)
			}
		})
	}
}

func writeKeyPair(t *testing.T, dir string, mismatched bool) *interfaces.CredentialBundle {
	t.Helper()
	cert, key, pub, err := cryptoutils.RandomKeyPair("sensor-42")
	require.NoError(t, err)
	if mismatched {
		_, key, pub, err = cryptoutils.RandomKeyPair("sensor-43")
		require.NoError(t, err)
	}
	bundle := &interfaces.CredentialBundle{
		CertificatePEM: string(cert),
		PrivateKey:     string(key),
		PublicKey:      string(pub),
	}
	_, err = storage.SaveCredentials(dir, testIdentity(), bundle)
	require.NoError(t, err)
	return bundle
}

func TestRun_Distribute(t *testing.T) {
	storedMetadata := interfaces.ConnectionMetadata{
		RootCertificatePEM: testRootCA,
		RegistryEndpoint:   "stored-ats.iot.eu-central-1.amazonaws.com",
	}

	tests := []struct {
		name          string
		prepare       func(t *testing.T, dir string)
		expectedExit  bool
		expectedCalls []string
		// expectedEndpoint is the endpoint handed to the sink, empty when the sink is not called.
		expectedEndpoint string
	}{
		{
			name: "complete bundle",
			prepare: func(t *testing.T, dir string) {
				bundle := writeKeyPair(t, dir, false)
				err := storage.NewFileSink(dir, testLogger()).Write(context.Background(), testIdentity(), bundle, storedMetadata)
				require.NoError(t, err)
			},
			expectedEndpoint: storedMetadata.RegistryEndpoint,
		},
		{
			name:             "credentials only refetch metadata",
			prepare:          func(t *testing.T, dir string) { writeKeyPair(t, dir, false) },
			expectedCalls:    []string{registry.OpDescribeEndpoint},
			expectedEndpoint: registry.NewMockIoTService().Endpoint,
		},
		{
			name:         "mismatched key pair",
			prepare:      func(t *testing.T, dir string) { writeKeyPair(t, dir, true) },
			expectedExit: true,
		},
		{
			name:         "empty directory",
			prepare:      func(t *testing.T, dir string) {},
			expectedExit: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			tt.prepare(t, dir)

			sink := &storage.MockSink{SinkName: "s3"}
			sink.On("Write", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
			r := newTestRun(t, sink)

			err := r.distribute(context.Background(), dir)

			assert.Equal(t, tt.expectedCalls, r.iot.Calls())
			if tt.expectedExit {
				requireExitCode(t, err, 1)
				sink.AssertNotCalled(t, "Write", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
				return
			}
			require.NoError(t, err)

			sink.AssertNumberOfCalls(t, "Write", 1)
			metadata := sink.Calls[0].Arguments.Get(3).(interfaces.ConnectionMetadata)
			assert.Equal(t, tt.expectedEndpoint, metadata.RegistryEndpoint)
			assert.Equal(t, testRootCA, metadata.RootCertificatePEM)
			if tt.expectedCalls == nil {
				r.fetcher.AssertNotCalled(t, "FetchRootCertificate", mock.Anything)
			}
		})
	}
}
