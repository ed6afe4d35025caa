package app

import (
	"context"
	"fmt"
	"time"

	"linkrotor/internal/config"
	"linkrotor/internal/task/scheduler"
	logx "linkrotor/pkg/logx"
)

const jobAuditPrune = "audit.prune"

type auditPruner interface {
	PruneAudit(ctx context.Context, before time.Time) (int64, error)
}

// pruneAuditJob deletes audit rows older than the retention returned by
// retention at run time, so a reload takes effect on the next run.
func pruneAuditJob(store auditPruner, retention func() time.Duration, now func() time.Time, log logx.Logger) scheduler.Job {
	return func(ctx context.Context) error {
		cutoff := now().Add(-retention())
		n, err := store.PruneAudit(ctx, cutoff)
		if err != nil {
			return fmt.Errorf("prune audit: %w", err)
		}
		if n > 0 {
			log.Info("audit pruned", logx.Int64("rows", n), logx.Time("before", cutoff))
		} else {
			log.Debug("audit prune: nothing to delete", logx.Time("before", cutoff))
		}
		return nil
	}
}

func (a *App) registerHousekeeping(cfg *config.Config) error {
	job := pruneAuditJob(a.store, a.auditRetention, time.Now, a.log.With(logx.String("job", jobAuditPrune)))
	return a.sched.AddCron(jobAuditPrune, auditPruneSpec(cfg), 2*time.Minute, job)
}

func (a *App) auditRetention() time.Duration {
	d, err := auditRetention(a.cfgm.Get())
	if err != nil {
		return config.DefaultAuditRetention
	}
	return d
}
