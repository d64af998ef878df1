package fetcher

import (
	"context"

	"vitalwatch/internal/model"
)

// HealthClient issues the remote calls against the health service.
// Every failure is returned as a *FetchError. Calls are never retried here;
// the scheduler's next tick is the retry.
type HealthClient interface {
	FetchSnapshot(ctx context.Context, subjectID string) (model.Snapshot, error)
	FetchHistory(ctx context.Context, subjectID string, windowHours int) (model.HistorySeries, error)
	SendSimulate(ctx context.Context, subjectID string, accident model.AccidentType) error
}
