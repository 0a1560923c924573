// The Licensed Work is (c) 2022 Sygma
// SPDX-License-Identifier: LGPL-3.0-only

package relay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/tonbridge/relay/metrics"
	"github.com/tonbridge/relay/transport"
)

const DefaultRetryInterval = time.Second * 2

// Submitter delivers signed attestations to the destination chain and
// converges every event on a terminal outcome. It holds no in-memory
// knowledge of in-flight work: each sweep re-reads Signed, Submitting and
// Submitted entries from the ledger, so a restart resumes exactly where the
// store says the pipeline was.
type Submitter struct {
	log           zerolog.Logger
	route         Route
	transport     transport.Transport
	adapter       Adapter
	ledger        Ledger
	metrics       *metrics.RelayMetrics
	retryInterval time.Duration
}

func NewSubmitter(
	logC zerolog.Context,
	route Route,
	t transport.Transport,
	adapter Adapter,
	ledger Ledger,
	m *metrics.RelayMetrics,
	retryInterval time.Duration,
) *Submitter {
	return &Submitter{
		log:           logC.Logger(),
		route:         route,
		transport:     t,
		adapter:       adapter,
		ledger:        ledger,
		metrics:       m,
		retryInterval: retryInterval,
	}
}

// Sweep advances every in-flight event of this route. Events advance
// concurrently, so one event sitting in backoff never delays the others.
// Per-event failures are logged; only ledger failures abort the sweep.
func (s *Submitter) Sweep(ctx context.Context) error {
	// Submitted is scanned first so an event submitted in this sweep is not
	// status-checked until the next one.
	batch := make([]*BridgeEvent, 0)
	for _, state := range []EventState{StateSubmitted, StateSigned, StateSubmitting} {
		events, err := s.ledger.ScanByState(state)
		if err != nil {
			return err
		}
		for _, ev := range events {
			if ev.SourceChain != s.route.SourceChain || ev.WatchAddress != s.route.WatchAddress {
				continue
			}
			batch = append(batch, ev)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, ev := range batch {
		ev := ev
		g.Go(func() error {
			var err error
			switch ev.State {
			case StateSigned, StateSubmitting:
				err = s.submit(gctx, ev)
			case StateSubmitted:
				err = s.track(gctx, ev)
			}
			if err == nil {
				return nil
			}
			if IsIOFailure(err) {
				return err
			}
			s.log.Warn().Err(err).Str("event", ev.EventID).Msgf("Submission attempt failed, retrying on next sweep")
			return nil
		})
	}
	return g.Wait()
}

// submit drives one event through Submitting until the destination accepts
// the transaction. Every attempt re-derives fresh transaction parameters
// through the adapter; stale bytes are never resent.
func (s *Submitter) submit(ctx context.Context, ev *BridgeEvent) error {
	if ev.Attestation == nil {
		return s.fail(ev.EventID, errors.New("missing attestation on signed event"))
	}
	remaining := int64(s.route.MaxRetries) - int64(ev.AttemptCount) // nolint:gosec
	if remaining <= 0 {
		return s.fail(ev.EventID, fmt.Errorf("submission retry budget of %d attempts exhausted", s.route.MaxRetries))
	}

	if ev.AttemptCount == 0 {
		s.metrics.StartSubmission(ev.EventID)
	}

	attempts := ev.AttemptCount
	operation := func() error {
		attempts++
		s.metrics.TrackAttempt(s.route.ID())
		err := s.ledger.Update(ev.EventID, func(e *BridgeEvent) error {
			e.State = StateSubmitting
			e.AttemptCount = attempts
			e.LastAttemptAt = time.Now()
			return nil
		})
		if err != nil {
			return backoff.Permanent(err)
		}

		txBytes, err := s.adapter.EncodeSubmission(ctx, ev)
		if err != nil {
			return s.retryableOrPermanent(err)
		}

		txID, err := s.transport.Submit(ctx, txBytes)
		if errors.Is(err, transport.ErrAlreadyRelayed) {
			// another relay won the race, the attested action is done
			if err := s.finalize(ev.EventID); err != nil {
				return backoff.Permanent(err)
			}
			return nil
		}
		if err != nil {
			return s.retryableOrPermanent(err)
		}

		s.log.Info().Str("event", ev.EventID).Str("tx", txID).Uint64("attempt", attempts).Msgf("Submitted attestation")
		err = s.ledger.Update(ev.EventID, func(e *BridgeEvent) error {
			e.State = StateSubmitted
			e.DestinationTxID = txID
			return nil
		})
		if err != nil {
			return backoff.Permanent(err)
		}
		s.metrics.TrackSubmitted(s.route.ID())
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.retryInterval
	// nolint:gosec
	err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(bo, uint64(remaining-1)), ctx))
	if err == nil {
		return nil
	}
	if IsIOFailure(err) {
		return err
	}
	if ctx.Err() != nil {
		// shutdown, not a submission verdict; the event stays Submitting
		// and is resumed on the next start
		return nil
	}
	return s.fail(ev.EventID, fmt.Errorf("submission failed after %d attempts: %w", attempts, err))
}

// track polls a Submitted event's destination transaction until it is
// included at or beyond the destination finality depth.
func (s *Submitter) track(ctx context.Context, ev *BridgeEvent) error {
	status, err := s.transport.Status(ctx, ev.DestinationTxID)
	if errors.Is(err, transport.ErrAlreadyRelayed) {
		return s.finalize(ev.EventID)
	}
	if err != nil {
		return fmt.Errorf("fetching status of %s: %w", ev.DestinationTxID, err)
	}

	switch status.Kind {
	case transport.StatusIncluded:
		head, err := s.transport.ChainHead(ctx)
		if err != nil {
			return fmt.Errorf("fetching chain head: %w", err)
		}
		if head < status.IncludedAt+s.route.FinalityDepth {
			return nil
		}
		s.log.Info().Str("event", ev.EventID).Str("tx", ev.DestinationTxID).Msgf("Destination transaction finalized")
		return s.finalize(ev.EventID)
	case transport.StatusNotFound:
		// the transaction may have been dropped from the mempool; keep
		// polling while the retry budget lasts
		if ev.AttemptCount >= s.route.MaxRetries {
			return s.fail(ev.EventID, fmt.Errorf("destination transaction %s not found after %d attempts", ev.DestinationTxID, ev.AttemptCount))
		}
		return s.ledger.Update(ev.EventID, func(e *BridgeEvent) error {
			e.AttemptCount++
			e.LastAttemptAt = time.Now()
			return nil
		})
	default:
		return nil
	}
}

func (s *Submitter) retryableOrPermanent(err error) error {
	if transport.Retryable(err) {
		return err
	}
	return backoff.Permanent(err)
}

func (s *Submitter) finalize(eventID string) error {
	err := s.ledger.Update(eventID, func(e *BridgeEvent) error {
		e.State = StateFinalized
		e.FinalizedAt = time.Now()
		return nil
	})
	if err != nil {
		return err
	}
	s.metrics.EndSubmission(eventID)
	s.metrics.TrackFinalized(s.route.ID())
	return nil
}

func (s *Submitter) fail(eventID string, cause error) error {
	err := s.ledger.Update(eventID, func(e *BridgeEvent) error {
		e.State = StateFailed
		e.FailureReason = cause.Error()
		return nil
	})
	if err != nil {
		return err
	}
	s.metrics.TrackFailed(s.route.ID())
	s.log.Error().Err(cause).Str("event", eventID).Msgf("Event terminally failed")
	return nil
}
