package jobs

import (
	"context"

	"github.com/CatfishW/ping-agaii-org/pkg/dashboard"
)

const (
	AccountSyncJobName = "lammp_account_sync"
	RetentionJobName   = "telemetry_retention"
)

// Syncer links external accounts. *dashboard.AccountSync implements it.
type Syncer interface {
	Sync(ctx context.Context, provider string) (*dashboard.SyncResult, error)
}

// Purger removes expired telemetry. *telemetry.Service implements it.
type Purger interface {
	Purge(ctx context.Context, defaultDays int) (int64, error)
}

// AccountSyncJob links LAMMP accounts and, when new links were made, calls
// onChange so cached dashboard data is refreshed.
func AccountSyncJob(schedule string, syncer Syncer, onChange func(context.Context)) Job {
	return Job{
		Name:     AccountSyncJobName,
		Schedule: schedule,
		Run: func(ctx context.Context) error {
			result, err := syncer.Sync(ctx, dashboard.ProviderLAMMP)
			if err != nil {
				return err
			}
			if result.NewLinks > 0 && onChange != nil {
				onChange(ctx)
			}
			return nil
		},
	}
}

// RetentionJob purges telemetry older than the retention window.
func RetentionJob(schedule string, purger Purger, defaultDays int) Job {
	return Job{
		Name:     RetentionJobName,
		Schedule: schedule,
		Run: func(ctx context.Context) error {
			_, err := purger.Purge(ctx, defaultDays)
			return err
		},
	}
}
