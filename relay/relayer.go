// The Licensed Work is (c) 2022 Sygma
// SPDX-License-Identifier: LGPL-3.0-only

package relay

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/tonbridge/relay/transport"
)

// Route is one configured source -> destination pipeline.
type Route struct {
	SourceChain       Chain
	DestinationChain  Chain
	WatchAddress      string
	ConfirmationDepth uint64
	FinalityDepth     uint64
	PollInterval      time.Duration
	WindowSize        uint64
	MaxRetries        uint64
	StartHeight       uint64
}

func (r Route) ID() string {
	return fmt.Sprintf("%s->%s[%s]", r.SourceChain, r.DestinationChain, r.WatchAddress)
}

// Ledger is the persistence contract the pipeline stages share. Implemented
// by store.Ledger; every cross-stage interaction goes through it, never
// through in-memory state.
type Ledger interface {
	Get(id string) (*BridgeEvent, error)
	InsertIfAbsent(ev *BridgeEvent) (bool, error)
	Update(id string, fn func(ev *BridgeEvent) error) error
	ScanByState(state EventState) ([]*BridgeEvent, error)
	Delete(id string) error
	Watermark(chain Chain, watchAddress string) (uint64, error)
	AdvanceWatermark(chain Chain, watchAddress string, pos uint64) error
}

// Adapter wraps a chain transport with chain-specific decoding. Decode turns
// a raw source-chain event into the canonical opaque payload;
// EncodeSubmission builds destination transaction bytes embedding the
// attestation, re-deriving volatile parameters (nonce, gas) on every call.
type Adapter interface {
	Decode(raw transport.RawEvent) ([]byte, error)
	EncodeSubmission(ctx context.Context, ev *BridgeEvent) ([]byte, error)
}

// Pipeline bundles the three stages of one route.
type Pipeline struct {
	Route     Route
	Observer  *Observer
	Signer    *Signer
	Submitter *Submitter
}

// Relayer owns all route pipelines and schedules their polling loops. Routes
// run independently; a stalled or failing route never blocks another one.
type Relayer struct {
	pipelines []*Pipeline

	retentionWindow   time.Duration
	retentionInterval time.Duration
	ledger            Ledger
}

func NewRelayer(pipelines []*Pipeline, ledger Ledger, retentionWindow time.Duration) *Relayer {
	return &Relayer{
		pipelines:         pipelines,
		ledger:            ledger,
		retentionWindow:   retentionWindow,
		retentionInterval: time.Hour,
	}
}

// Start runs every pipeline loop until ctx is cancelled or the ledger fails.
// Transient errors stay inside their loop; a ledger IO failure tears the
// whole relayer down because continuing over an inconsistent store risks
// double submission.
func (r *Relayer) Start(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for _, p := range r.pipelines {
		p := p
		log.Info().Str("route", p.Route.ID()).Msg("Starting route pipeline")
		g.Go(func() error {
			return r.poll(ctx, p.Route.ID()+":observer", p.Route.PollInterval, p.Observer.Poll)
		})
		g.Go(func() error {
			return r.poll(ctx, p.Route.ID()+":signer", p.Route.PollInterval, p.Signer.Sweep)
		})
		g.Go(func() error {
			return r.poll(ctx, p.Route.ID()+":submitter", p.Route.PollInterval, p.Submitter.Sweep)
		})
	}

	if r.retentionWindow > 0 {
		g.Go(func() error {
			return r.poll(ctx, "retention", r.retentionInterval, r.compact)
		})
	}

	return g.Wait()
}

// poll drives one cooperative loop. The shutdown signal is only checked
// between ticks, so an in-flight tick always finishes its ledger writes.
func (r *Relayer) poll(ctx context.Context, name string, interval time.Duration, tick func(ctx context.Context) error) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("loop", name).Msg("Polling loop stopped")
			return nil
		case <-ticker.C:
			err := tick(ctx)
			if err == nil {
				continue
			}
			if IsIOFailure(err) {
				log.Error().Err(err).Str("loop", name).Msg("Ledger failure, halting relayer")
				return err
			}
			log.Warn().Err(err).Str("loop", name).Msg("Tick failed, retrying on next tick")
		}
	}
}

// compact deletes Finalized events older than the retention window. Purely a
// policy sweep; correctness never depends on it running.
func (r *Relayer) compact(ctx context.Context) error {
	events, err := r.ledger.ScanByState(StateFinalized)
	if err != nil {
		return err
	}
	cutoff := time.Now().Add(-r.retentionWindow)
	for _, ev := range events {
		if ctx.Err() != nil {
			return nil
		}
		if ev.FinalizedAt.IsZero() || ev.FinalizedAt.After(cutoff) {
			continue
		}
		if err := r.ledger.Delete(ev.EventID); err != nil {
			return err
		}
		log.Debug().Str("event", ev.EventID).Msg("Compacted finalized event")
	}
	return nil
}
