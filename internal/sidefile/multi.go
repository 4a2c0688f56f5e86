package sidefile

import (
	"context"

	"github.com/mind-engage/gpam/internal/gpam"
)

// Sinks fans results out to several sinks in order, stopping at the first error.
type Sinks []gpam.ResultSink

func (s Sinks) WriteResults(ctx context.Context, runID string, results []gpam.Aggregate) error {
	for _, sink := range s {
		if err := sink.WriteResults(ctx, runID, results); err != nil {
			return err
		}
	}
	return nil
}
