package reconciler

import (
	"context"
	"time"

	"github.com/iolipix/JuriNapse-sub001/internal/config"
	"github.com/iolipix/JuriNapse-sub001/internal/domain"
	pkglog "github.com/iolipix/JuriNapse-sub001/pkg/log"
)

// Repairer runs one full graph repair.
type Repairer interface {
	RepairCounters(ctx context.Context) (*domain.RepairReport, error)
}

// Reconciler runs the graph repair on a fixed interval.
type Reconciler struct {
	repairer Repairer
	cfg      config.RepairConfig
	quit     chan struct{}
	doneCh   chan struct{}
}

// New creates a new Reconciler.
func New(repairer Repairer, cfg config.RepairConfig) *Reconciler {
	return &Reconciler{
		repairer: repairer,
		cfg:      cfg,
		quit:     make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start launches the reconciler in a background goroutine.
func (r *Reconciler) Start(ctx context.Context) {
	go r.run(ctx)
}

// Stop signals the reconciler to stop and returns immediately.
// Call Done() to wait for it to exit.
func (r *Reconciler) Stop() {
	close(r.quit)
}

// Done returns a channel that is closed when the reconciler has fully stopped.
func (r *Reconciler) Done() <-chan struct{} {
	return r.doneCh
}

func (r *Reconciler) run(ctx context.Context) {
	defer close(r.doneCh)

	interval := r.cfg.Interval
	if interval <= 0 {
		interval = 6 * time.Hour
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.quit:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.reconcile(ctx)
		}
	}
}

func (r *Reconciler) reconcile(ctx context.Context) {
	l := pkglog.Component("reconciler")
	l.Info().Msg("scheduled graph repair starting")

	report, err := r.repairer.RepairCounters(pkglog.WithLogger(ctx, l))
	if err != nil {
		l.Error().Err(err).Msg("scheduled graph repair failed")
		return
	}

	l.Info().
		Int("users_scanned", report.UsersScanned).
		Int("users_corrected", report.UsersCorrected).
		Int("orphans_removed", report.OrphansRemoved).
		Int("asymmetric_edges_fixed", report.AsymmetricEdgesFixed).
		Msg("scheduled graph repair complete")
}
