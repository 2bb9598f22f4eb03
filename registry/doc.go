// Package registry registers IoT devices with the AWS IoT registry.
//
// IoTRegistryClient implements interfaces.DeviceRegistry. A registration is an
// ordered sequence of independent remote calls:
//
//  1. DescribeThing - a found thing fails the run with interfaces.ErrAlreadyExists
//     before anything is created, so a name never gets two credentials.
//  2. CreateThing - optionally with a thing type and an "environment" attribute.
//  3. CreateKeysAndCertificate - the certificate is activated on issuance.
//  4. AttachPolicy - the resolved policy is attached to the certificate.
//  5. AttachThingPrincipal - the certificate becomes the thing's principal.
//
// The registry exposes no transaction across these calls. A failure in steps 2-5
// returns an *interfaces.RemoteError naming the stage and leaves whatever was
// created in place; cleanup is an operator decision. None of the calls are
// retried, since issuance and policy attachment are not idempotent.
//
// IoTEndpointResolver implements interfaces.EndpointResolver using DescribeEndpoint.
//
// MockIoTService is an in-memory IoT registry used by tests in this and other packages.
package registry
