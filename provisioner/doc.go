// Package provisioner sequences the provisioning workflow of one device.
//
// A run moves linearly through
//
//	Start -> Registered -> TrustFetched -> EndpointResolved -> Distributed -> Done
//
// and ends in Failed(stage, cause), an *interfaces.ProvisioningError, from any state.
//
//   - Registration failures, including interfaces.ErrAlreadyExists, end the run
//     before anything is distributed.
//   - The root certificate and the endpoint are fetched concurrently; both are needed
//     before any sink runs.
//   - All configured sinks are written concurrently and independently. The Report
//     records each outcome so an operator knows which destinations hold the private
//     key, which cannot be fetched from the registry again.
//
// Nothing is ever rolled back in the registry. Distribute re-runs sinks for a
// bundle that was already issued.
package provisioner
