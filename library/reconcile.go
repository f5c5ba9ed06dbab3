package library

import "context"

// Reconcile runs the defensive reconciliation pass once.
func (lm *LibraryManager) Reconcile(ctx context.Context) (ReconcileReport, error) {
	report, err := lm.store.Reconcile(ctx, lm.clock(), lm.reconcileGrace)
	if err != nil {
		lm.log.Error("reconcile failed", "error", err)
		return report, err
	}
	if report.MarkedUnavailable+report.MarkedAvailable > 0 {
		// Availability drift means some write path skipped the synchronizer.
		lm.log.Warn("reconcile corrected availability drift",
			"marked_unavailable", report.MarkedUnavailable,
			"marked_available", report.MarkedAvailable)
	}
	lm.log.Debug("reconcile finished", "overdue_refreshed", report.OverdueRefreshed)
	return report, nil
}
