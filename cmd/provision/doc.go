// Package main (cmd/provision) is the operator command line for device provisioning.
//
// Two commands are available:
//
//	provision  - Register --thing-name with AWS IoT Core, issue an active certificate,
//	             attach the environment's policy and distribute the credential bundle,
//	             the Amazon root CA and the endpoint document to the selected sinks.
//
//	distribute - Re-run distribution for a bundle a previous run left in --from-dir.
//	             The registry is never contacted except to re-fetch missing metadata.
//
// Sinks are switched with --local-save, --s3-save, --django-provisioning and
// --vault-save, each with a --no-* negation. The registration API secret is read
// from PROVISIONING_SECRET, optionally set through the --env-file dotenv file.
//
// The process prints a per-sink report and exits non-zero when any stage or sink failed.
// If credentials were issued but no sink holds them, the certificate and key pair are
// written to --output-dir so distribute can finish the job.
package main
