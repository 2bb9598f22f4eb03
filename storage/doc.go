// Package storage provides the sinks a provisioned device bundle is distributed to.
//
// Every sink implements interfaces.Sink and persists the complete artifact set of a
// device or fails:
//
//   - FileSink writes one file per artifact into a local directory
//   - S3Sink writes one object per artifact under <prefix>/ in a bucket
//   - VaultSink writes all artifacts as one KV v2 secret
//   - RegistrationSink posts the certificate and key pair to the backend registration API
//
// # Artifacts
//
// For a device named sensor-42 the artifacts are:
//
//	sensor-42.cert.pem
//	sensor-42.private.pem.key
//	sensor-42.public.pem.key
//	AmazonRootCA1.pem
//	endpoint_url.json      {"url": "<endpoint>"}
//
// The certificate ARN is never persisted.
//
// # Sink URI Format
//
// SinkFactory builds sinks from location URIs:
//
//   - file://./out/ or file:///var/lib/provisioning/
//   - s3://bucket-name/optional-prefix
//   - vault://mount/optional/path
//   - https://backend.example.com/api/devices/provision/
//
// # Fan-out
//
// MultiSink writes to all sinks concurrently. Sinks share read-only access to the
// bundle; one sink failing never stops another from being attempted, and the outcome
// of each sink is reported separately, since the private key cannot be fetched from
// the registry again.
package storage
