package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/ruteri/iot-device-provisioning/interfaces"
	"golang.org/x/sync/errgroup"
)

// SinkOutcome is the result of writing one bundle to one sink.
type SinkOutcome struct {
	Sink     string
	Location string
	Err      error
	Duration time.Duration
}

// OK reports whether the sink holds a complete copy of the bundle.
func (o SinkOutcome) OK() bool {
	return o.Err == nil
}

// MultiSink writes a bundle to several independent sinks.
type MultiSink struct {
	sinks []interfaces.Sink
	log   *slog.Logger
}

// NewMultiSink creates a fan-out over sinks. An empty list is valid and writes nothing.
func NewMultiSink(sinks []interfaces.Sink, logger *slog.Logger) *MultiSink {
	if logger == nil {
		logger = slog.Default()
	}

	return &MultiSink{
		sinks: sinks,
		log:   logger,
	}
}

// WriteAll writes to every sink concurrently. A failing sink never prevents the others
// from being attempted. Outcomes are returned in sink order; the error aggregates every
// failure and is nil only when all sinks succeeded.
func (m *MultiSink) WriteAll(ctx context.Context, identity interfaces.DeviceIdentity, bundle *interfaces.CredentialBundle, metadata interfaces.ConnectionMetadata) ([]SinkOutcome, error) {
	start := time.Now()
	outcomes := make([]SinkOutcome, len(m.sinks))

	// Goroutines never return an error so that Wait does not cancel siblings.
	var g errgroup.Group
	for i, sink := range m.sinks {
		i, sink := i, sink
		g.Go(func() error {
			sinkStart := time.Now()
			err := sink.Write(ctx, identity, bundle, metadata)
			outcomes[i] = SinkOutcome{
				Sink:     sink.Name(),
				Location: sink.LocationURI(),
				Err:      err,
				Duration: time.Since(sinkStart),
			}
			if err != nil {
				m.log.Error("Failed to store bundle",
					slog.String("sink", sink.Name()),
					slog.String("location", sink.LocationURI()),
					"err", err)
				return nil
			}
			m.log.Info("Stored bundle",
				slog.String("sink", sink.Name()),
				slog.String("location", sink.LocationURI()),
				slog.Duration("duration", time.Since(sinkStart)))
			return nil
		})
	}
	_ = g.Wait()

	var result *multierror.Error
	succeeded := 0
	for _, outcome := range outcomes {
		if outcome.Err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: %w", outcome.Sink, outcome.Err))
			continue
		}
		succeeded++
	}

	m.log.Debug("Distribution finished",
		slog.String("thing_name", identity.Name),
		slog.Int("sinks", len(m.sinks)),
		slog.Int("succeeded", succeeded),
		slog.Duration("duration", time.Since(start)))

	return outcomes, result.ErrorOrNil()
}
