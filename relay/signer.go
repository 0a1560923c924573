// The Licensed Work is (c) 2022 Sygma
// SPDX-License-Identifier: LGPL-3.0-only

package relay

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/tonbridge/relay/keystore"
	"github.com/tonbridge/relay/metrics"
	"github.com/tonbridge/relay/transport"
)

var (
	// ErrNotReady means the event has not accumulated enough source-chain
	// confirmations yet. The signer retries it on a later sweep.
	ErrNotReady = errors.New("event confirmation depth not met")
	// ErrKeyUnavailable means the signing capability could not be reached.
	// Retryable.
	ErrKeyUnavailable = errors.New("signing capability unavailable")
	// ErrMalformed means the event violates payload decoding contracts.
	// Fatal for that event.
	ErrMalformed = errors.New("malformed event payload")
)

// SchemeFor maps a destination chain to its attestation signature scheme.
func SchemeFor(chain Chain) keystore.Scheme {
	if chain == ChainTon {
		return keystore.Ed25519Scheme
	}
	return keystore.Secp256k1Scheme
}

// Signer sweeps AwaitingConfirmations events past their confirmation depth
// and attaches a chain-appropriate attestation. Signing is idempotent: an
// already signed event returns its stored attestation without touching key
// material again.
type Signer struct {
	log        zerolog.Logger
	route      Route
	transport  transport.Transport
	capability keystore.Signer
	ledger     Ledger
	metrics    *metrics.RelayMetrics
	sigChn     chan interface{}
}

func NewSigner(
	logC zerolog.Context,
	route Route,
	t transport.Transport,
	capability keystore.Signer,
	ledger Ledger,
	m *metrics.RelayMetrics,
	sigChn chan interface{},
) *Signer {
	return &Signer{
		log:        logC.Logger(),
		route:      route,
		transport:  t,
		capability: capability,
		ledger:     ledger,
		metrics:    m,
		sigChn:     sigChn,
	}
}

// Sweep signs every eligible event of this route. Per-event failures never
// abort the sweep; only ledger failures propagate.
func (s *Signer) Sweep(ctx context.Context) error {
	head, err := s.transport.ChainHead(ctx)
	if err != nil {
		return fmt.Errorf("fetching chain head: %w", err)
	}

	events, err := s.ledger.ScanByState(StateAwaitingConfirmations)
	if err != nil {
		return err
	}

	for _, ev := range events {
		if ctx.Err() != nil {
			return nil
		}
		if ev.SourceChain != s.route.SourceChain || ev.WatchAddress != s.route.WatchAddress {
			continue
		}

		att, err := s.Sign(ev, head)
		switch {
		case err == nil:
			s.metrics.TrackSigned(s.route.ID())
			s.log.Info().Str("event", ev.EventID).Msgf("Signed bridge event")
			select {
			case s.sigChn <- EventAttested{EventID: ev.EventID, Signature: att.Signature}:
			default:
			}
		case errors.Is(err, ErrNotReady):
			continue
		case errors.Is(err, ErrKeyUnavailable):
			s.log.Warn().Err(err).Str("event", ev.EventID).Msgf("Signing capability unavailable, retrying on next sweep")
		case errors.Is(err, ErrMalformed):
			if err := s.fail(ev.EventID, err); err != nil {
				return err
			}
		default:
			return err
		}
	}
	return nil
}

// Sign produces the attestation for a single event. Requires the event to be
// past its confirmation depth at the given chain head. Calling it on an
// already Signed event is a no-op returning the stored attestation.
func (s *Signer) Sign(ev *BridgeEvent, head uint64) (*Attestation, error) {
	if ev.State == StateSigned && ev.Attestation != nil {
		return ev.Attestation, nil
	}
	if ev.State != StateAwaitingConfirmations {
		return nil, fmt.Errorf("event %s not awaiting confirmations, state %s", ev.EventID, ev.State)
	}
	if head < ev.SourceHeight+s.route.ConfirmationDepth {
		return nil, fmt.Errorf("%w: height %d, head %d, depth %d", ErrNotReady, ev.SourceHeight, head, s.route.ConfirmationDepth)
	}
	if len(ev.Payload) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrMalformed)
	}

	scheme := SchemeFor(ev.DestinationChain)
	digest := AttestationDigest(ev)
	signature, err := s.capability.Sign(scheme, digest)
	if err != nil {
		if errors.Is(err, keystore.ErrDenied) {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrKeyUnavailable, err)
	}
	signerID, err := s.capability.Identity(scheme)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyUnavailable, err)
	}

	att := &Attestation{
		Signature: signature,
		SignerID:  signerID,
		Digest:    digest,
	}
	err = s.ledger.Update(ev.EventID, func(e *BridgeEvent) error {
		if e.State == StateSigned && e.Attestation != nil {
			att = e.Attestation
			return nil
		}
		e.State = StateSigned
		e.Attestation = att
		return nil
	})
	if err != nil {
		return nil, err
	}
	return att, nil
}

func (s *Signer) fail(eventID string, cause error) error {
	s.metrics.TrackFailed(s.route.ID())
	s.log.Error().Err(cause).Str("event", eventID).Msgf("Marking event failed")
	return s.ledger.Update(eventID, func(e *BridgeEvent) error {
		e.State = StateFailed
		e.FailureReason = cause.Error()
		return nil
	})
}
