package interfaces

import (
	"errors"
	"fmt"
)

// Stage names a step of the provisioning workflow.
type Stage string

const (
	StageStart            Stage = "start"
	StageLookup           Stage = "lookup"
	StageCreateThing      Stage = "create-thing"
	StageIssueCertificate Stage = "issue-certificate"
	StageAttachPolicy     Stage = "attach-policy"
	StageAttachPrincipal  Stage = "attach-principal"
	StageRegistered       Stage = "registered"
	StageTrustFetched     Stage = "trust-fetched"
	StageEndpointResolved Stage = "endpoint-resolved"
	StageDistributed      Stage = "distributed"
	StageDone             Stage = "done"
)

var (
	// ErrAlreadyExists is returned when a device with the requested name is already registered.
	// Provisioning never issues a second credential for an existing name.
	ErrAlreadyExists = errors.New("device already exists")

	// ErrArtifactMissing is returned when a stored bundle lacks one of its artifacts.
	ErrArtifactMissing = errors.New("artifact missing")
)

// RemoteError is a failed call against the registry, object storage or the registration API.
type RemoteError struct {
	Stage  Stage
	Target string
	Err    error
}

func (e *RemoteError) Error() string {
	if e.Target != "" {
		return fmt.Sprintf("remote error at %s (%s): %v", e.Stage, e.Target, e.Err)
	}
	return fmt.Sprintf("remote error at %s: %v", e.Stage, e.Err)
}

func (e *RemoteError) Unwrap() error { return e.Err }

// NetworkError is a failed root certificate download.
type NetworkError struct {
	URL string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error fetching %s: %v", e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// IOError is a failed local filesystem operation.
type IOError struct {
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("io error at %s: %v", e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// ProvisioningError is the terminal Failed(stage, cause) state of a run.
type ProvisioningError struct {
	Stage Stage
	Err   error
}

func (e *ProvisioningError) Error() string {
	return fmt.Sprintf("provisioning failed at stage %s: %v", e.Stage, e.Err)
}

func (e *ProvisioningError) Unwrap() error { return e.Err }

// FailedStage extracts the stage from a ProvisioningError chain, or "" if err has none.
func FailedStage(err error) Stage {
	var perr *ProvisioningError
	if errors.As(err, &perr) {
		return perr.Stage
	}
	return ""
}
