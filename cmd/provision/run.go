package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/iot"
	"github.com/google/uuid"
	"github.com/hashicorp/go-cleanhttp"
	"github.com/ruteri/iot-device-provisioning/cmd/flags"
	"github.com/ruteri/iot-device-provisioning/config"
	"github.com/ruteri/iot-device-provisioning/cryptoutils"
	"github.com/ruteri/iot-device-provisioning/interfaces"
	"github.com/ruteri/iot-device-provisioning/provisioner"
	"github.com/ruteri/iot-device-provisioning/registry"
	"github.com/ruteri/iot-device-provisioning/storage"
	"github.com/ruteri/iot-device-provisioning/trust"
	"github.com/urfave/cli/v2"
)

// run holds everything one command invocation needs.
type run struct {
	log         *slog.Logger
	out         io.Writer
	identity    interfaces.DeviceIdentity
	outputDir   string
	sinks       []interfaces.Sink
	provisioner *provisioner.Provisioner
}

func newRun(cCtx *cli.Context) (*run, error) {
	log := flags.SetupLogger(cCtx)

	env, err := interfaces.ParseEnvironment(cCtx.String(flagEnv.Name))
	if err != nil {
		return nil, err
	}

	deployment := config.DefaultDeployment()
	policy, err := deployment.ResolvePolicy(env, cCtx.String(flagPolicyName.Name))
	if err != nil {
		return nil, err
	}

	identity := interfaces.DeviceIdentity{
		Name:        cCtx.String(flagThingName.Name),
		Environment: env,
		PolicyName:  policy,
		ThingType:   cCtx.String(flagThingType.Name),
	}
	if err := identity.Validate(); err != nil {
		return nil, err
	}

	sess, err := session.NewSession(&aws.Config{
		Region: aws.String(cCtx.String(flags.AWSRegionFlag.Name)),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}
	iotClient := iot.New(sess)

	sinks, err := buildSinks(cCtx, log, identity, deployment)
	if err != nil {
		return nil, err
	}

	p := provisioner.New(
		registry.NewIoTRegistryClient(iotClient, log),
		trust.NewFetcher(cCtx.String(flagRootCAURL.Name), cleanhttp.DefaultClient(), log),
		registry.NewIoTEndpointResolver(iotClient, cCtx.String(flagEndpointType.Name), log),
		log,
	)

	return &run{
		log:         log,
		out:         os.Stdout,
		identity:    identity,
		outputDir:   cCtx.String(flagOutputDir.Name),
		sinks:       sinks,
		provisioner: p,
	}, nil
}

// buildSinks turns the sink switches into location URIs and builds them through the
// factory. Only the clients a selected sink needs are created.
func buildSinks(cCtx *cli.Context, log *slog.Logger, identity interfaces.DeviceIdentity, deployment config.Deployment) ([]interfaces.Sink, error) {
	factory := storage.NewSinkFactory(log).WithHTTPClient(cleanhttp.DefaultPooledClient())
	var locations []string

	if toggleLocal.enabled(cCtx) {
		locations = append(locations, storage.FileLocation(cCtx.String(flagOutputDir.Name)))
	}

	if toggleS3.enabled(cCtx) {
		s3Client, err := storage.NewS3Client(cCtx.String(flags.AWSRegionFlag.Name), cCtx.String(flags.S3EndpointFlag.Name))
		if err != nil {
			return nil, err
		}
		factory.WithS3Client(s3Client)

		prefix := cCtx.String(flagS3Prefix.Name)
		if cCtx.Bool(flagS3PrefixUUID.Name) {
			if prefix == "" {
				prefix = identity.Name
			}
			prefix = path.Join(prefix, uuid.NewString())
			log.Info("Using generated object prefix", slog.String("prefix", prefix))
		}
		locations = append(locations, storage.S3Location(cCtx.String(flagBucketName.Name), prefix))
	}

	if toggleRegistration.enabled(cCtx) {
		url, err := deployment.ResolveRegistrationURL(identity.Environment, cCtx.String(flagRegistrationURL.Name))
		if err != nil {
			return nil, err
		}
		secret, err := config.ProvisioningSecret()
		if err != nil {
			return nil, err
		}
		factory.WithRegistrationSecret(secret)
		locations = append(locations, url)
	}

	if toggleVault.enabled(cCtx) {
		vaultClient, err := storage.NewVaultClient(cCtx.String(flagVaultAddr.Name))
		if err != nil {
			return nil, err
		}
		factory.WithVault(vaultClient.Logical(), vaultClient.Address())
		locations = append(locations, storage.VaultLocation(cCtx.String(flagVaultMount.Name), cCtx.String(flagVaultPath.Name)))
	}

	return factory.SinksFor(locations)
}

func (r *run) provision(ctx context.Context) error {
	report := r.provisioner.Provision(ctx, r.identity, r.sinks)

	if report.Err != nil && report.Issued() && !report.Distributed() {
		r.saveRecoveryCopy(report.Bundle)
	}
	return r.finish(report)
}

func (r *run) distribute(ctx context.Context, fromDir string) error {
	bundle, metadata, err := storage.LoadBundle(fromDir, r.identity.Name)
	needMetadata := false
	if errors.Is(err, interfaces.ErrArtifactMissing) {
		// A recovery copy holds the credentials only.
		bundle, err = storage.LoadCredentials(fromDir, r.identity.Name)
		needMetadata = true
	}
	if err != nil {
		return cli.Exit(fmt.Sprintf("could not load bundle: %v", err), 1)
	}

	if err := cryptoutils.VerifyKeyPair([]byte(bundle.CertificatePEM), []byte(bundle.PrivateKey), []byte(bundle.PublicKey)); err != nil {
		return cli.Exit(fmt.Sprintf("bundle in %s is inconsistent: %v", fromDir, err), 1)
	}
	if fp, err := cryptoutils.CertificateFingerprint([]byte(bundle.CertificatePEM)); err == nil {
		r.log.Info("Loaded bundle", slog.String("dir", fromDir), slog.String("certificate_id", fp))
	}

	if needMetadata {
		r.log.Info("Connection metadata not found, fetching it", slog.String("dir", fromDir))
		if metadata, err = r.provisioner.FetchMetadata(ctx); err != nil {
			return cli.Exit(fmt.Sprintf("could not fetch connection metadata: %v", err), 1)
		}
	}

	return r.finish(r.provisioner.Distribute(ctx, r.identity, bundle, metadata, r.sinks))
}

// saveRecoveryCopy writes the credentials to the output directory when no sink holds
// them. The private key exists nowhere else once this process exits.
func (r *run) saveRecoveryCopy(bundle *interfaces.CredentialBundle) {
	files, err := storage.SaveCredentials(r.outputDir, r.identity, bundle)
	if err != nil {
		r.log.Error("Could not save recovery copy of the credentials, the private key is lost",
			slog.String("dir", r.outputDir), "err", err)
		return
	}
	r.log.Warn("Credentials saved for recovery, run the distribute command once the failure is fixed",
		slog.Any("files", files))
}

func (r *run) finish(report *provisioner.Report) error {
	if err := report.Print(r.out); err != nil {
		r.log.Error("Could not print report", "err", err)
	}
	if !report.Succeeded() {
		return cli.Exit(report.Err.Error(), 1)
	}
	return nil
}
