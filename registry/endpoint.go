package registry

import (
	"context"
	"errors"
	"log/slog"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/iot"
	"github.com/aws/aws-sdk-go/service/iot/iotiface"

	"github.com/ruteri/iot-device-provisioning/interfaces"
)

// DefaultEndpointType selects the ATS-signed data endpoint, matching AmazonRootCA1.
const DefaultEndpointType = "iot:Data-ATS"

// IoTEndpointResolver implements interfaces.EndpointResolver with a single DescribeEndpoint call.
type IoTEndpointResolver struct {
	iot          iotiface.IoTAPI
	endpointType string
	log          *slog.Logger
}

// NewIoTEndpointResolver creates a resolver. An empty endpointType means DefaultEndpointType.
func NewIoTEndpointResolver(api iotiface.IoTAPI, endpointType string, log *slog.Logger) *IoTEndpointResolver {
	if endpointType == "" {
		endpointType = DefaultEndpointType
	}
	if log == nil {
		log = slog.Default()
	}
	return &IoTEndpointResolver{
		iot:          api,
		endpointType: endpointType,
		log:          log,
	}
}

// ResolveEndpoint returns the account's data endpoint host.
func (r *IoTEndpointResolver) ResolveEndpoint(ctx context.Context) (string, error) {
	out, err := r.iot.DescribeEndpointWithContext(ctx, &iot.DescribeEndpointInput{
		EndpointType: aws.String(r.endpointType),
	})
	if err != nil {
		return "", &interfaces.RemoteError{Stage: interfaces.StageEndpointResolved, Target: r.endpointType, Err: err}
	}

	endpoint := aws.StringValue(out.EndpointAddress)
	if endpoint == "" {
		return "", &interfaces.RemoteError{
			Stage:  interfaces.StageEndpointResolved,
			Target: r.endpointType,
			Err:    errors.New("registry returned an empty endpoint address"),
		}
	}

	r.log.Debug("Resolved registry endpoint",
		slog.String("endpoint_type", r.endpointType),
		slog.String("endpoint", endpoint))
	return endpoint, nil
}
