package patientdata

import (
	"context"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/medconsole/clinic/internal/platform/audit"
)

// Aggregator loads the three entity collections together.
type Aggregator struct {
	fetcher EntityFetcher
	audit   *audit.Recorder
	logger  zerolog.Logger
}

func NewAggregator(fetcher EntityFetcher, recorder *audit.Recorder, logger zerolog.Logger) *Aggregator {
	return &Aggregator{fetcher: fetcher, audit: recorder, logger: logger}
}

// LoadAll runs the three fetchers concurrently and returns once all of them
// have completed. The first failure cancels the others and is returned; no
// partial snapshot is ever produced. A successful load is audited as a view
// of all patients.
func (a *Aggregator) LoadAll(ctx context.Context, userID string) (*Snapshot, error) {
	var snap Snapshot
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		items, err := a.fetcher.FetchPatients(gctx)
		snap.Patients = items
		return err
	})
	g.Go(func() error {
		items, err := a.fetcher.FetchPrescriptions(gctx)
		snap.Prescriptions = items
		return err
	})
	g.Go(func() error {
		items, err := a.fetcher.FetchDocuments(gctx)
		snap.Documents = items
		return err
	})
	if err := g.Wait(); err != nil {
		a.logger.Error().Err(err).Str("user_id", userID).Msg("failed to load patient data")
		return nil, err
	}

	if err := a.audit.Record(ctx, userID, audit.ActionView, audit.ResourcePatient, "all", nil); err != nil {
		return nil, err
	}

	a.logger.Debug().
		Str("user_id", userID).
		Int("patients", len(snap.Patients)).
		Int("prescriptions", len(snap.Prescriptions)).
		Int("documents", len(snap.Documents)).
		Msg("patient data loaded")
	return &snap, nil
}
