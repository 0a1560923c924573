// The Licensed Work is (c) 2022 Sygma
// SPDX-License-Identifier: LGPL-3.0-only

package relay

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/tonbridge/relay/metrics"
	"github.com/tonbridge/relay/transport"
)

// Observer turns raw, possibly duplicated and reordered chain data into a
// monotonically growing, deduplicated event stream in the ledger. It has no
// deadline: a failing transport is retried on every tick with an unchanged
// watermark, indefinitely.
type Observer struct {
	log       zerolog.Logger
	route     Route
	transport transport.Transport
	adapter   Adapter
	ledger    Ledger
	metrics   *metrics.RelayMetrics
}

func NewObserver(
	logC zerolog.Context,
	route Route,
	t transport.Transport,
	adapter Adapter,
	ledger Ledger,
	m *metrics.RelayMetrics,
) *Observer {
	return &Observer{
		log:       logC.Logger(),
		route:     route,
		transport: t,
		adapter:   adapter,
		ledger:    ledger,
		metrics:   m,
	}
}

// Poll executes one observation tick: fetch the next window above the
// watermark, ingest unseen events as Detected, advance the watermark past
// the fully ingested range and promote durable entries towards signing.
func (o *Observer) Poll(ctx context.Context) error {
	head, err := o.transport.ChainHead(ctx)
	if err != nil {
		return fmt.Errorf("fetching chain head: %w", err)
	}

	watermark, err := o.ledger.Watermark(o.route.SourceChain, o.route.WatchAddress)
	if err != nil {
		return err
	}
	if watermark == 0 {
		watermark = o.route.StartHeight
		if watermark == 0 {
			watermark = head
		}
		if err := o.ledger.AdvanceWatermark(o.route.SourceChain, o.route.WatchAddress, watermark); err != nil {
			return err
		}
	}

	from := watermark
	to := head + 1
	if to > from+o.route.WindowSize {
		to = from + o.route.WindowSize
	}

	if from < to {
		if err := o.ingest(ctx, from, to); err != nil {
			return err
		}
		if err := o.ledger.AdvanceWatermark(o.route.SourceChain, o.route.WatchAddress, to); err != nil {
			return err
		}
		o.metrics.TrackWatermark(o.route.ID(), to)
	}

	return o.promote(ctx)
}

// ingest fetches the half-open range [from, to) and inserts every previously
// unseen event as Detected. Insertion is idempotent, so re-delivered raw
// events collapse into their existing ledger entry.
func (o *Observer) ingest(ctx context.Context, from uint64, to uint64) error {
	raws, err := o.transport.FetchEvents(ctx, o.route.WatchAddress, from, to)
	if err != nil {
		return fmt.Errorf("fetching events in range %d-%d: %w", from, to, err)
	}

	sort.Slice(raws, func(i, j int) bool {
		if raws[i].Height != raws[j].Height {
			return raws[i].Height < raws[j].Height
		}
		return raws[i].Index < raws[j].Index
	})

	detected := int64(0)
	for _, raw := range raws {
		payload, err := o.adapter.Decode(raw)
		if err != nil {
			o.log.Warn().Err(err).Uint64("height", raw.Height).Msgf("Skipping undecodable event")
			continue
		}

		ev := &BridgeEvent{
			EventID:          NewEventID(o.route.SourceChain, raw.TxHash, raw.Index),
			SourceChain:      o.route.SourceChain,
			DestinationChain: o.route.DestinationChain,
			WatchAddress:     o.route.WatchAddress,
			SourceTxHash:     raw.TxHash,
			LogIndex:         raw.Index,
			SourceHeight:     raw.Height,
			Payload:          payload,
			State:            StateDetected,
			DetectedAt:       time.Now(),
		}
		inserted, err := o.ledger.InsertIfAbsent(ev)
		if err != nil {
			return err
		}
		if inserted {
			detected++
			o.log.Info().Str("event", ev.EventID).Uint64("height", ev.SourceHeight).Msgf("Detected bridge event")
		}
	}
	if detected > 0 {
		o.metrics.TrackDetected(o.route.ID(), detected)
	}
	return nil
}

// promote moves this route's durable Detected entries to
// AwaitingConfirmations, where they sit until the confirmation depth is met.
func (o *Observer) promote(ctx context.Context) error {
	events, err := o.ledger.ScanByState(StateDetected)
	if err != nil {
		return err
	}
	for _, ev := range events {
		if ctx.Err() != nil {
			return nil
		}
		if ev.SourceChain != o.route.SourceChain || ev.WatchAddress != o.route.WatchAddress {
			continue
		}
		err := o.ledger.Update(ev.EventID, func(e *BridgeEvent) error {
			if e.State != StateDetected {
				return nil
			}
			e.State = StateAwaitingConfirmations
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}
