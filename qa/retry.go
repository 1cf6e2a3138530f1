package qa

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
)

// runTx runs fn in one unit of work, re-running the WHOLE unit when it fails
// with a transient error. Partial retries are never attempted: the closure
// re-reads everything it depends on, so each attempt starts from committed
// state.
//
// Errors that are not *Error (store failures) and exhausted retries surface
// as ErrInternal.
func (s *Service) runTx(ctx context.Context, op string, fn func(tx Tx) error) error {
	start := time.Now()
	err := s.retry(ctx, op, fn)
	workflowDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	workflowTotal.WithLabelValues(op, outcome(err)).Inc()
	return err
}

func (s *Service) retry(ctx context.Context, op string, fn func(tx Tx) error) error {
	var err error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		err = s.store.WithTx(ctx, fn)
		if err == nil {
			return nil
		}
		if !IsRetryable(err) {
			break
		}
		if attempt == s.maxAttempts {
			return internalError(op, fmt.Errorf("gave up after %d attempts: %w", attempt, err))
		}

		txRetries.WithLabelValues(op).Inc()
		log.WithFields(log.Fields{
			"operation": op,
			"attempt":   attempt,
		}).WithError(err).Warn("Transient failure, retrying transaction")

		select {
		case <-ctx.Done():
			return internalError(op, ctx.Err())
		case <-time.After(s.backoff * time.Duration(attempt)):
		}
	}

	var werr *Error
	if errors.As(err, &werr) {
		return err
	}
	return internalError(op, err)
}
