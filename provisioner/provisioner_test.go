package provisioner

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/ruteri/iot-device-provisioning/config"
	"github.com/ruteri/iot-device-provisioning/interfaces"
	"github.com/ruteri/iot-device-provisioning/registry"
	"github.com/ruteri/iot-device-provisioning/storage"
	"github.com/ruteri/iot-device-provisioning/trust"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const testRootCA = "-----BEGIN CERTIFICATE-----\nroot\n-----END CERTIFICATE-----\n"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func stagingIdentity(t *testing.T) interfaces.DeviceIdentity {
	t.Helper()
	policy, err := config.DefaultDeployment().ResolvePolicy(interfaces.EnvStaging, "")
	require.NoError(t, err)
	return interfaces.DeviceIdentity{
		Name:        "sensor-42",
		Environment: interfaces.EnvStaging,
		PolicyName:  policy,
	}
}

type fixture struct {
	iot      *registry.MockIoTService
	trust    *trust.MockFetcher
	resolver interfaces.EndpointResolver
	p        *Provisioner
}

func newFixture() *fixture {
	svc := registry.NewMockIoTService()
	fetcher := &trust.MockFetcher{}
	fetcher.On("FetchRootCertificate", mock.Anything).Return(testRootCA, nil).Maybe()
	resolver := registry.NewIoTEndpointResolver(svc, "", testLogger())
	return &fixture{
		iot:      svc,
		trust:    fetcher,
		resolver: resolver,
		p:        New(registry.NewIoTRegistryClient(svc, testLogger()), fetcher, resolver, testLogger()),
	}
}

func mockSink(name string, err error) *storage.MockSink {
	s := &storage.MockSink{SinkName: name}
	s.On("Write", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(err)
	return s
}

func TestProvision_SinkSubsets(t *testing.T) {
	tests := []struct {
		name  string
		sinks []string
	}{
		{name: "no sinks is a dry issuance", sinks: nil},
		{name: "single sink", sinks: []string{"local"}},
		{name: "two sinks", sinks: []string{"local", "s3"}},
		{name: "all sinks", sinks: []string{"local", "s3", "registration-api", "vault"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()

			var mocks []*storage.MockSink
			var sinks []interfaces.Sink
			for _, name := range tt.sinks {
				m := mockSink(name, nil)
				mocks = append(mocks, m)
				sinks = append(sinks, m)
			}

			report := f.p.Provision(context.Background(), stagingIdentity(t), sinks)
			require.NoError(t, report.Err)
			assert.True(t, report.Succeeded())
			assert.Equal(t, interfaces.StageDone, report.Stage)
			require.NotNil(t, report.Bundle)
			assert.NoError(t, report.Bundle.Validate())
			assert.Len(t, report.Outcomes, len(tt.sinks))

			for i, m := range mocks {
				m.AssertNumberOfCalls(t, "Write", 1)
				assert.Equal(t, tt.sinks[i], report.Outcomes[i].Sink)
				assert.True(t, report.Outcomes[i].OK())
			}
		})
	}
}

func TestProvision_SinkFailureIsolation(t *testing.T) {
	f := newFixture()
	sinkErr := &interfaces.RemoteError{Stage: interfaces.StageDistributed, Target: "s3://bucket/sensor-42/sensor-42.cert.pem", Err: errors.New("AccessDenied")}

	local := mockSink("local", nil)
	s3 := mockSink("s3", sinkErr)
	api := mockSink("registration-api", nil)

	report := f.p.Provision(context.Background(), stagingIdentity(t), []interfaces.Sink{local, s3, api})

	require.Error(t, report.Err)
	assert.False(t, report.Succeeded())
	assert.True(t, report.Issued())
	assert.True(t, report.Distributed())
	assert.Equal(t, interfaces.StageDone, report.Stage)
	assert.Equal(t, interfaces.StageDistributed, interfaces.FailedStage(report.Err))
	assert.ErrorIs(t, report.Err, sinkErr)

	local.AssertNumberOfCalls(t, "Write", 1)
	s3.AssertNumberOfCalls(t, "Write", 1)
	api.AssertNumberOfCalls(t, "Write", 1)

	failed := report.FailedSinks()
	require.Len(t, failed, 1)
	assert.Equal(t, "s3", failed[0].Sink)
	assert.True(t, report.Outcomes[0].OK())
	assert.True(t, report.Outcomes[2].OK())
}

func TestProvision_AlreadyExists(t *testing.T) {
	f := newFixture()
	f.iot.AddThing("sensor-42")
	sink := &storage.MockSink{SinkName: "local"}

	report := f.p.Provision(context.Background(), stagingIdentity(t), []interfaces.Sink{sink})

	require.Error(t, report.Err)
	assert.ErrorIs(t, report.Err, interfaces.ErrAlreadyExists)
	assert.Equal(t, interfaces.StageLookup, interfaces.FailedStage(report.Err))
	assert.Equal(t, interfaces.StageStart, report.Stage)
	assert.False(t, report.Issued())
	assert.Empty(t, report.Outcomes)
	sink.AssertNotCalled(t, "Write", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	f.trust.AssertNotCalled(t, "FetchRootCertificate", mock.Anything)
	assert.Equal(t, []string{registry.OpDescribeThing}, f.iot.Calls())
}

func TestProvision_RegistrationFailureSkipsSinks(t *testing.T) {
	f := newFixture()
	f.iot.FailOn(registry.OpAttachPolicy, errors.New("policy not found"))
	sink := &storage.MockSink{SinkName: "local"}

	report := f.p.Provision(context.Background(), stagingIdentity(t), []interfaces.Sink{sink})

	var remote *interfaces.RemoteError
	require.ErrorAs(t, report.Err, &remote)
	assert.Equal(t, interfaces.StageAttachPolicy, interfaces.FailedStage(report.Err))
	assert.False(t, report.Issued())
	sink.AssertNotCalled(t, "Write", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestProvision_MetadataFailures(t *testing.T) {
	tests := []struct {
		name          string
		setup         func(f *fixture)
		expectedStage interfaces.Stage
	}{
		{
			name: "root certificate unavailable",
			setup: func(f *fixture) {
				f.trust = &trust.MockFetcher{}
				f.trust.On("FetchRootCertificate", mock.Anything).
					Return("", &interfaces.NetworkError{URL: "https://www.amazontrust.com/repository/AmazonRootCA1.pem", Err: errors.New("timeout")})
				f.p = New(registry.NewIoTRegistryClient(f.iot, testLogger()), f.trust, f.resolver, testLogger())
			},
			expectedStage: interfaces.StageTrustFetched,
		},
		{
			name: "endpoint unavailable",
			setup: func(f *fixture) {
				f.iot.FailOn(registry.OpDescribeEndpoint, errors.New("access denied"))
			},
			expectedStage: interfaces.StageEndpointResolved,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			tt.setup(f)
			sink := &storage.MockSink{SinkName: "local"}

			report := f.p.Provision(context.Background(), stagingIdentity(t), []interfaces.Sink{sink})

			require.Error(t, report.Err)
			assert.Equal(t, tt.expectedStage, interfaces.FailedStage(report.Err))
			assert.Equal(t, interfaces.StageRegistered, report.Stage)
			// The issued bundle is handed back even though nothing was distributed.
			require.True(t, report.Issued())
			assert.NotEmpty(t, report.Bundle.PrivateKey)
			assert.False(t, report.Distributed())
			sink.AssertNotCalled(t, "Write", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestProvision_TwiceNeverIssuesTwice(t *testing.T) {
	f := newFixture()
	identity := stagingIdentity(t)

	first := f.p.Provision(context.Background(), identity, nil)
	require.NoError(t, first.Err)

	second := f.p.Provision(context.Background(), identity, nil)
	assert.ErrorIs(t, second.Err, interfaces.ErrAlreadyExists)
	assert.Equal(t, 1, f.iot.CertificateCount())
}

func TestProvision_FilesystemRoundTrip(t *testing.T) {
	f := newFixture()
	dir := filepath.Join(t.TempDir(), "sensor-42")

	report := f.p.Provision(context.Background(), stagingIdentity(t), []interfaces.Sink{storage.NewFileSink(dir, testLogger())})
	require.NoError(t, report.Err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	assert.Equal(t, []string{
		"AmazonRootCA1.pem",
		"endpoint_url.json",
		"sensor-42.cert.pem",
		"sensor-42.private.pem.key",
		"sensor-42.public.pem.key",
	}, names)

	data, err := os.ReadFile(filepath.Join(dir, "endpoint_url.json"))
	require.NoError(t, err)
	var doc map[string]string
	require.NoError(t, json.Unmarshal(data, &doc))
	require.Len(t, doc, 1)
	assert.NotEmpty(t, doc["url"])
	assert.Equal(t, f.iot.Endpoint, doc["url"])
}

func TestProvision_RegistrationAPIScenario(t *testing.T) {
	f := newFixture()
	identity := stagingIdentity(t)
	assert.Equal(t, "Soliseco-P1-Policy-Staging", identity.PolicyName)

	var mu sync.Mutex
	var deviceID string
	mux := chi.NewRouter()
	mux.Post("/api/devices/provision/", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		mu.Lock()
		deviceID = r.FormValue(storage.FieldDeviceID)
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok": true}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	sink, err := storage.NewRegistrationSink(srv.URL+"/api/devices/provision/", "s3cr3t", srv.Client(), testLogger())
	require.NoError(t, err)

	report := f.p.Provision(context.Background(), identity, []interfaces.Sink{sink})
	require.NoError(t, report.Err)

	assert.Equal(t, []string{
		registry.OpDescribeThing,
		registry.OpCreateThing,
		registry.OpCreateKeysAndCertificate,
		registry.OpAttachPolicy,
		registry.OpAttachThingPrincipal,
		registry.OpDescribeEndpoint,
	}, f.iot.Calls())
	assert.Equal(t, []string{"Soliseco-P1-Policy-Staging"}, f.iot.Policies(report.Bundle.CertificateARN))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "sensor-42", deviceID)
}

func TestDistribute(t *testing.T) {
	f := newFixture()
	bundle := &interfaces.CredentialBundle{
		CertificatePEM: "cert",
		PrivateKey:     "key",
		PublicKey:      "pub",
	}
	metadata := interfaces.ConnectionMetadata{RootCertificatePEM: testRootCA, RegistryEndpoint: "endpoint"}
	sink := mockSink("s3", nil)

	report := f.p.Distribute(context.Background(), stagingIdentity(t), bundle, metadata, []interfaces.Sink{sink})
	require.NoError(t, report.Err)
	assert.True(t, report.Succeeded())
	sink.AssertNumberOfCalls(t, "Write", 1)
	assert.Empty(t, f.iot.Calls(), "distribution never touches the registry")

	report = f.p.Distribute(context.Background(), stagingIdentity(t), bundle, interfaces.ConnectionMetadata{}, []interfaces.Sink{sink})
	require.Error(t, report.Err)
	sink.AssertNumberOfCalls(t, "Write", 1)
}

func TestReport_Print(t *testing.T) {
	f := newFixture()
	report := f.p.Provision(context.Background(), stagingIdentity(t), []interfaces.Sink{
		mockSink("local", nil),
		mockSink("s3", errors.New("AccessDenied | bucket")),
	})

	var buf bytes.Buffer
	require.NoError(t, report.Print(&buf))
	out := buf.String()

	assert.Contains(t, out, "sensor-42")
	assert.Contains(t, out, "failed")
	assert.Contains(t, out, "mock://local")
	assert.Contains(t, out, "AccessDenied / bucket")
	assert.NotContains(t, out, report.Bundle.PrivateKey)
}

func TestProvision_IncompleteBundle(t *testing.T) {
	reg := &registry.MockRegistry{}
	reg.On("RegisterDevice", mock.Anything, mock.Anything).
		Return(&interfaces.CredentialBundle{CertificatePEM: "cert", CertificateARN: "arn"}, nil)
	resolver := &registry.MockEndpointResolver{}
	fetcher := &trust.MockFetcher{}
	sink := &storage.MockSink{SinkName: "local"}

	p := New(reg, fetcher, resolver, testLogger())
	report := p.Provision(context.Background(), stagingIdentity(t), []interfaces.Sink{sink})

	require.Error(t, report.Err)
	assert.Equal(t, interfaces.StageIssueCertificate, interfaces.FailedStage(report.Err))
	assert.False(t, report.Issued())
	fetcher.AssertNotCalled(t, "FetchRootCertificate", mock.Anything)
	resolver.AssertNotCalled(t, "ResolveEndpoint", mock.Anything)
	sink.AssertNotCalled(t, "Write", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestFetchMetadata(t *testing.T) {
	tests := []struct {
		name          string
		rootCA        string
		rootErr       error
		endpoint      string
		endpointErr   error
		expectedStage interfaces.Stage
	}{
		{name: "both resolved", rootCA: testRootCA, endpoint: "a1-ats.iot.eu-central-1.amazonaws.com"},
		{name: "empty root certificate", rootCA: "", endpoint: "e", expectedStage: interfaces.StageTrustFetched},
		{name: "empty endpoint", rootCA: testRootCA, endpoint: "", expectedStage: interfaces.StageEndpointResolved},
		{name: "endpoint error", rootCA: testRootCA, endpointErr: errors.New("denied"), expectedStage: interfaces.StageEndpointResolved},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fetcher := &trust.MockFetcher{}
			fetcher.On("FetchRootCertificate", mock.Anything).Return(tt.rootCA, tt.rootErr)
			resolver := &registry.MockEndpointResolver{}
			resolver.On("ResolveEndpoint", mock.Anything).Return(tt.endpoint, tt.endpointErr)

			p := New(&registry.MockRegistry{}, fetcher, resolver, testLogger())
			metadata, err := p.FetchMetadata(context.Background())

			if tt.expectedStage != "" {
				require.Error(t, err)
				assert.Equal(t, tt.expectedStage, interfaces.FailedStage(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.rootCA, metadata.RootCertificatePEM)
			assert.Equal(t, tt.endpoint, metadata.RegistryEndpoint)
		})
	}
}
