package provisioner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ruteri/iot-device-provisioning/interfaces"
	"github.com/ruteri/iot-device-provisioning/storage"
	"golang.org/x/sync/errgroup"
)

// Provisioner runs the provisioning workflow for one device per call.
type Provisioner struct {
	registry interfaces.DeviceRegistry
	trust    interfaces.RootTrustFetcher
	endpoint interfaces.EndpointResolver
	log      *slog.Logger
}

// New creates a provisioner with the given collaborators.
//
// Parameters:
//   - registry: registers the device and issues its credentials
//   - trust: fetches the root certificate shipped with every bundle
//   - endpoint: resolves the broker endpoint shipped with every bundle
//   - log: Structured logger for operational insights
func New(registry interfaces.DeviceRegistry, trust interfaces.RootTrustFetcher, endpoint interfaces.EndpointResolver, log *slog.Logger) *Provisioner {
	if log == nil {
		log = slog.Default()
	}
	return &Provisioner{
		registry: registry,
		trust:    trust,
		endpoint: endpoint,
		log:      log,
	}
}

// Provision registers identity and distributes the issued bundle to sinks.
//
// Start -> Registered -> TrustFetched -> EndpointResolved -> Distributed -> Done.
// A registration failure ends the run before any sink is touched. Once credentials
// are issued the report always carries the bundle so the caller can keep it, and
// every sink is attempted regardless of the others.
func (p *Provisioner) Provision(ctx context.Context, identity interfaces.DeviceIdentity, sinks []interfaces.Sink) *Report {
	start := time.Now()
	report := &Report{Identity: identity, Stage: interfaces.StageStart}
	log := p.log.With(slog.String("thing_name", identity.Name))

	log.Info("Provisioning device",
		slog.String("environment", identity.Environment.String()),
		slog.String("policy", identity.PolicyName),
		slog.Int("sinks", len(sinks)))

	bundle, err := p.registry.RegisterDevice(ctx, identity)
	if err != nil {
		return report.fail(registrationStage(err), err)
	}
	if err := bundle.Validate(); err != nil {
		return report.fail(interfaces.StageIssueCertificate, err)
	}
	report.Bundle = bundle
	report.advance(interfaces.StageRegistered)
	log.Info("Device registered", slog.Any("bundle", bundle))

	metadata, err := p.FetchMetadata(ctx)
	if err != nil {
		log.Error("Credentials issued but connection metadata unavailable, nothing distributed", "err", err)
		return report.fail(interfaces.FailedStage(err), errors.Unwrap(err))
	}
	report.Metadata = metadata
	report.advance(interfaces.StageTrustFetched)
	report.advance(interfaces.StageEndpointResolved)

	p.distribute(ctx, report, sinks)

	log.Info("Provisioning finished",
		slog.String("stage", string(report.Stage)),
		slog.Bool("success", report.Succeeded()),
		slog.Duration("duration", time.Since(start)))

	return report
}

// Distribute writes an already issued bundle to sinks without touching the registry.
// It is the recovery path for a run whose distribution did not complete.
func (p *Provisioner) Distribute(ctx context.Context, identity interfaces.DeviceIdentity, bundle *interfaces.CredentialBundle, metadata interfaces.ConnectionMetadata, sinks []interfaces.Sink) *Report {
	report := &Report{Identity: identity, Stage: interfaces.StageStart}
	if err := bundle.ValidateArtifacts(); err != nil {
		return report.fail(interfaces.StageRegistered, err)
	}
	report.Bundle = bundle
	report.advance(interfaces.StageRegistered)

	if err := metadata.Validate(); err != nil {
		return report.fail(interfaces.StageEndpointResolved, err)
	}
	report.Metadata = metadata
	report.advance(interfaces.StageEndpointResolved)

	p.distribute(ctx, report, sinks)
	return report
}

// FetchMetadata fetches the root certificate and resolves the endpoint concurrently.
// Both must succeed. The error is a *interfaces.ProvisioningError naming the failed stage.
func (p *Provisioner) FetchMetadata(ctx context.Context) (interfaces.ConnectionMetadata, error) {
	var metadata interfaces.ConnectionMetadata

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		rootCA, err := p.trust.FetchRootCertificate(gctx)
		if err != nil {
			return &interfaces.ProvisioningError{Stage: interfaces.StageTrustFetched, Err: err}
		}
		if rootCA == "" {
			return &interfaces.ProvisioningError{Stage: interfaces.StageTrustFetched, Err: errors.New("empty root certificate")}
		}
		metadata.RootCertificatePEM = rootCA
		return nil
	})
	g.Go(func() error {
		endpoint, err := p.endpoint.ResolveEndpoint(gctx)
		if err != nil {
			return &interfaces.ProvisioningError{Stage: interfaces.StageEndpointResolved, Err: err}
		}
		if endpoint == "" {
			return &interfaces.ProvisioningError{Stage: interfaces.StageEndpointResolved, Err: errors.New("empty endpoint")}
		}
		metadata.RegistryEndpoint = endpoint
		return nil
	})

	if err := g.Wait(); err != nil {
		return interfaces.ConnectionMetadata{}, err
	}
	return metadata, nil
}

func (p *Provisioner) distribute(ctx context.Context, report *Report, sinks []interfaces.Sink) {
	if len(sinks) == 0 {
		p.log.Warn("No sinks configured, credentials are only held in memory",
			slog.String("thing_name", report.Identity.Name))
	}

	multi := storage.NewMultiSink(sinks, p.log)
	outcomes, err := multi.WriteAll(ctx, report.Identity, report.Bundle, report.Metadata)
	report.Outcomes = outcomes
	report.advance(interfaces.StageDistributed)
	report.advance(interfaces.StageDone)
	if err != nil {
		report.Err = &interfaces.ProvisioningError{
			Stage: interfaces.StageDistributed,
			Err:   fmt.Errorf("%d of %d sinks failed: %w", len(report.FailedSinks()), len(outcomes), err),
		}
	}
}

// registrationStage names the registry step a registration error came from.
func registrationStage(err error) interfaces.Stage {
	var remote *interfaces.RemoteError
	if errors.As(err, &remote) {
		return remote.Stage
	}
	if errors.Is(err, interfaces.ErrAlreadyExists) {
		return interfaces.StageLookup
	}
	return interfaces.StageRegistered
}
