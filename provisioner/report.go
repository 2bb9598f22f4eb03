package provisioner

import (
	"fmt"
	"io"
	"strings"

	"github.com/ryanuber/columnize"

	"github.com/ruteri/iot-device-provisioning/interfaces"
	"github.com/ruteri/iot-device-provisioning/storage"
)

// Report is the outcome of one provisioning or distribution run.
type Report struct {
	Identity interfaces.DeviceIdentity
	// Stage is the last stage the run reached.
	Stage interfaces.Stage
	// Bundle is set once credentials were issued, whatever happened afterwards.
	Bundle   *interfaces.CredentialBundle
	Metadata interfaces.ConnectionMetadata
	// Outcomes has one entry per configured sink, in configuration order.
	Outcomes []storage.SinkOutcome
	// Err is a *interfaces.ProvisioningError, nil on full success.
	Err error
}

func (r *Report) advance(stage interfaces.Stage) {
	r.Stage = stage
}

func (r *Report) fail(stage interfaces.Stage, err error) *Report {
	r.Err = &interfaces.ProvisioningError{Stage: stage, Err: err}
	return r
}

// Succeeded reports whether the run reached Done with every sink written.
func (r *Report) Succeeded() bool {
	return r.Err == nil && r.Stage == interfaces.StageDone
}

// Issued reports whether credentials exist registry-side for this run.
func (r *Report) Issued() bool {
	return r.Bundle != nil
}

// Distributed reports whether at least one sink holds the bundle.
func (r *Report) Distributed() bool {
	for _, o := range r.Outcomes {
		if o.OK() {
			return true
		}
	}
	return false
}

// FailedSinks returns the outcomes of sinks that do not hold the bundle.
func (r *Report) FailedSinks() []storage.SinkOutcome {
	var failed []storage.SinkOutcome
	for _, o := range r.Outcomes {
		if !o.OK() {
			failed = append(failed, o)
		}
	}
	return failed
}

// Print writes a human readable summary. It never includes the private key.
func (r *Report) Print(w io.Writer) error {
	status := "ok"
	if !r.Succeeded() {
		status = "failed"
	}

	lines := []string{
		fmt.Sprintf("Device | %s", r.Identity.Name),
		fmt.Sprintf("Stage | %s", r.Stage),
		fmt.Sprintf("Status | %s", status),
	}
	if r.Bundle != nil && r.Bundle.CertificateARN != "" {
		lines = append(lines, fmt.Sprintf("Certificate | %s", r.Bundle.CertificateARN))
	}
	if r.Err != nil {
		lines = append(lines, fmt.Sprintf("Error | %s", sanitizeCell(r.Err.Error())))
	}
	if _, err := fmt.Fprintln(w, columnize.SimpleFormat(lines)); err != nil {
		return err
	}

	if len(r.Outcomes) == 0 {
		if r.Issued() && r.Err == nil {
			_, err := fmt.Fprintln(w, "No sinks configured.")
			return err
		}
		return nil
	}

	rows := []string{"SINK | LOCATION | RESULT"}
	for _, o := range r.Outcomes {
		result := "ok"
		if !o.OK() {
			result = sanitizeCell(o.Err.Error())
		}
		rows = append(rows, fmt.Sprintf("%s | %s | %s", o.Sink, o.Location, result))
	}
	_, err := fmt.Fprintln(w, "\n"+columnize.SimpleFormat(rows))
	return err
}

func sanitizeCell(s string) string {
	s = strings.ReplaceAll(s, "|", "/")
	return strings.ReplaceAll(s, "\n", " ")
}
