/*
audit.go - Replay of the reputation history against the stored counter

PURPOSE:
  The history exists to explain the counter. Auditor replays every user's
  entries from the initial reputation, applying the same zero floor the store
  applies, and compares the result with the stored counter. Any mismatch is a
  drift: some mutation bypassed the ledger or was lost.

READ-ONLY:
  The auditor never repairs. It logs each drift and publishes the number of
  drifting users as a gauge; fixing data is an operator decision.

SEE ALSO:
  - ledger.go: the writer side
  - jobs/scheduler.go: runs the audit on a cron schedule
*/
package reputation

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"
)

var (
	auditDriftUsers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "qa",
		Subsystem: "reputation",
		Name:      "audit_drift_users",
		Help:      "Number of users whose stored reputation differs from the replayed history in the last audit",
	})

	auditRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "qa",
		Subsystem: "reputation",
		Name:      "audit_runs_total",
		Help:      "Reputation audit runs by result",
	}, []string{"result"})
)

// Balance is a user's stored reputation counter.
type Balance struct {
	UserID     string
	Reputation int
}

// SnapshotReader reads counters and histories from one consistent view.
type SnapshotReader interface {
	// Balances returns every user's stored counter.
	Balances(ctx context.Context) ([]Balance, error)

	// Entries returns a user's history in ascending ID order.
	Entries(ctx context.Context, userID string) ([]Entry, error)
}

// HistoryReader is the read side needed by the auditor. Every read fn makes
// must see the same snapshot: a workflow committing between the balance read
// and a history read would otherwise show up as drift.
type HistoryReader interface {
	Snapshot(ctx context.Context, fn func(r SnapshotReader) error) error
}

// Replay folds entries onto initial, flooring at zero after every step.
// Order matters because of the floor, so entries must be in ID order.
func Replay(initial int, entries []Entry) int {
	rep := initial
	for _, e := range entries {
		rep += e.Change
		if rep < 0 {
			rep = 0
		}
	}
	return rep
}

// Drift is one user whose counter disagrees with the replayed history.
type Drift struct {
	UserID   string
	Stored   int
	Replayed int
	Entries  int
}

// Report summarizes one audit run.
type Report struct {
	Checked int
	Drifts  []Drift
}

// Consistent reports whether no drift was found.
func (r Report) Consistent() bool { return len(r.Drifts) == 0 }

// Auditor compares stored counters with replayed history.
type Auditor struct {
	reader  HistoryReader
	initial int
}

// NewAuditor creates an auditor replaying from the policy's initial reputation.
func NewAuditor(reader HistoryReader, policy Policy) *Auditor {
	return &Auditor{reader: reader, initial: policy.Initial}
}

// Run audits every user once.
func (a *Auditor) Run(ctx context.Context) (Report, error) {
	var report Report
	err := a.reader.Snapshot(ctx, func(r SnapshotReader) error {
		report = Report{}
		balances, err := r.Balances(ctx)
		if err != nil {
			return fmt.Errorf("load balances: %w", err)
		}

		for _, b := range balances {
			if err := ctx.Err(); err != nil {
				return err
			}

			entries, err := r.Entries(ctx, b.UserID)
			if err != nil {
				return fmt.Errorf("load history for %s: %w", b.UserID, err)
			}
			report.Checked++

			replayed := Replay(a.initial, entries)
			if replayed == b.Reputation {
				continue
			}
			report.Drifts = append(report.Drifts, Drift{
				UserID:   b.UserID,
				Stored:   b.Reputation,
				Replayed: replayed,
				Entries:  len(entries),
			})
		}
		return nil
	})
	if err != nil {
		auditRuns.WithLabelValues("error").Inc()
		return report, err
	}

	for _, d := range report.Drifts {
		log.WithFields(log.Fields{
			"user_id":  d.UserID,
			"stored":   d.Stored,
			"replayed": d.Replayed,
			"entries":  d.Entries,
		}).Warn("Reputation drift detected")
	}

	auditDriftUsers.Set(float64(len(report.Drifts)))
	if report.Consistent() {
		auditRuns.WithLabelValues("consistent").Inc()
	} else {
		auditRuns.WithLabelValues("drift").Inc()
	}

	log.WithFields(log.Fields{
		"checked": report.Checked,
		"drifts":  len(report.Drifts),
	}).Info("Reputation audit finished")

	return report, nil
}
