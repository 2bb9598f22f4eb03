package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/service/iot"
	"github.com/aws/aws-sdk-go/service/iot/iotiface"

	"github.com/ruteri/iot-device-provisioning/interfaces"
)

// EnvironmentAttribute is the thing attribute carrying the target environment.
const EnvironmentAttribute = "environment"

// IoTRegistryClient implements interfaces.DeviceRegistry against the AWS IoT control plane.
//
// Registration is five ordered calls with no transaction around them: describe, create
// thing, create keys and certificate, attach policy, attach thing principal. Nothing is
// rolled back when a later call fails; the error names the stage so an operator can
// finish or clean up by hand.
type IoTRegistryClient struct {
	iot iotiface.IoTAPI
	log *slog.Logger
}

// NewIoTRegistryClient creates a registry client on top of an IoT API client.
func NewIoTRegistryClient(api iotiface.IoTAPI, log *slog.Logger) *IoTRegistryClient {
	if log == nil {
		log = slog.Default()
	}
	return &IoTRegistryClient{
		iot: api,
		log: log,
	}
}

// RegisterDevice registers identity.Name as a new thing and returns its freshly issued,
// active credentials. It fails with interfaces.ErrAlreadyExists without touching the
// registry further when the thing already exists.
func (c *IoTRegistryClient) RegisterDevice(ctx context.Context, identity interfaces.DeviceIdentity) (*interfaces.CredentialBundle, error) {
	if err := identity.Validate(); err != nil {
		return nil, err
	}

	start := time.Now()
	log := c.log.With(slog.String("thing_name", identity.Name))

	exists, err := c.thingExists(ctx, identity.Name)
	if err != nil {
		return nil, &interfaces.RemoteError{Stage: interfaces.StageLookup, Target: identity.Name, Err: err}
	}
	if exists {
		log.Warn("Thing already registered, refusing to issue a second credential")
		return nil, fmt.Errorf("thing %q: %w", identity.Name, interfaces.ErrAlreadyExists)
	}

	if err := c.createThing(ctx, identity); err != nil {
		if isAWSCode(err, iot.ErrCodeResourceAlreadyExistsException) {
			// Another run created the thing between describe and create.
			return nil, &interfaces.RemoteError{
				Stage:  interfaces.StageCreateThing,
				Target: identity.Name,
				Err:    fmt.Errorf("%w: %v", interfaces.ErrAlreadyExists, err),
			}
		}
		return nil, &interfaces.RemoteError{Stage: interfaces.StageCreateThing, Target: identity.Name, Err: err}
	}
	log.Debug("Created thing",
		slog.String("thing_type", identity.ThingType),
		slog.String("environment", identity.Environment.String()))

	bundle, err := c.issueCertificate(ctx)
	if err != nil {
		return nil, &interfaces.RemoteError{Stage: interfaces.StageIssueCertificate, Target: identity.Name, Err: err}
	}
	log = log.With(slog.String("certificate_arn", bundle.CertificateARN))
	log.Debug("Issued active certificate")

	_, err = c.iot.AttachPolicyWithContext(ctx, &iot.AttachPolicyInput{
		PolicyName: aws.String(identity.PolicyName),
		Target:     aws.String(bundle.CertificateARN),
	})
	if err != nil {
		log.Error("Failed to attach policy, certificate is active but unusable",
			slog.String("policy", identity.PolicyName),
			"err", err)
		return nil, &interfaces.RemoteError{Stage: interfaces.StageAttachPolicy, Target: identity.PolicyName, Err: err}
	}

	_, err = c.iot.AttachThingPrincipalWithContext(ctx, &iot.AttachThingPrincipalInput{
		ThingName: aws.String(identity.Name),
		Principal: aws.String(bundle.CertificateARN),
	})
	if err != nil {
		log.Error("Failed to attach certificate to thing", "err", err)
		return nil, &interfaces.RemoteError{Stage: interfaces.StageAttachPrincipal, Target: identity.Name, Err: err}
	}

	log.Info("Registered device",
		slog.String("policy", identity.PolicyName),
		slog.Duration("duration", time.Since(start)))

	return bundle, nil
}

func (c *IoTRegistryClient) thingExists(ctx context.Context, name string) (bool, error) {
	_, err := c.iot.DescribeThingWithContext(ctx, &iot.DescribeThingInput{
		ThingName: aws.String(name),
	})
	if err == nil {
		return true, nil
	}
	if isAWSCode(err, iot.ErrCodeResourceNotFoundException) {
		return false, nil
	}
	return false, err
}

func (c *IoTRegistryClient) createThing(ctx context.Context, identity interfaces.DeviceIdentity) error {
	input := &iot.CreateThingInput{
		ThingName: aws.String(identity.Name),
	}
	if identity.ThingType != "" {
		input.ThingTypeName = aws.String(identity.ThingType)
	}
	if identity.Environment != interfaces.EnvNone {
		input.AttributePayload = &iot.AttributePayload{
			Attributes: map[string]*string{
				EnvironmentAttribute: aws.String(identity.Environment.String()),
			},
		}
	}
	_, err := c.iot.CreateThingWithContext(ctx, input)
	return err
}

func (c *IoTRegistryClient) issueCertificate(ctx context.Context) (*interfaces.CredentialBundle, error) {
	out, err := c.iot.CreateKeysAndCertificateWithContext(ctx, &iot.CreateKeysAndCertificateInput{
		SetAsActive: aws.Bool(true),
	})
	if err != nil {
		return nil, err
	}

	bundle := &interfaces.CredentialBundle{
		CertificatePEM: aws.StringValue(out.CertificatePem),
		CertificateARN: aws.StringValue(out.CertificateArn),
	}
	if out.KeyPair != nil {
		bundle.PrivateKey = aws.StringValue(out.KeyPair.PrivateKey)
		bundle.PublicKey = aws.StringValue(out.KeyPair.PublicKey)
	}
	if err := bundle.Validate(); err != nil {
		return nil, fmt.Errorf("registry returned %w", err)
	}
	return bundle, nil
}

func isAWSCode(err error, code string) bool {
	var aerr awserr.Error
	return errors.As(err, &aerr) && aerr.Code() == code
}
