package store

import (
	"encoding/binary"
	"fmt"

	bolt "go.etcd.io/bbolt"

	"github.com/tonbridge/relay/relay"
)

// Watermark returns the persisted low-water mark for a watched address on a
// source chain. Zero means the route has never scanned.
func (l *Ledger) Watermark(chain relay.Chain, watchAddress string) (uint64, error) {
	var pos uint64
	err := l.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketWatermarks).Get(watermarkKey(chain, watchAddress))
		if raw == nil {
			return nil
		}
		pos = binary.BigEndian.Uint64(raw)
		return nil
	})
	if err != nil {
		return 0, &IOError{Err: err}
	}
	return pos, nil
}

// AdvanceWatermark moves the watermark forward. A position at or below the
// stored one is a no-op, so the mark never decreases across retries or
// restarts.
func (l *Ledger) AdvanceWatermark(chain relay.Chain, watchAddress string, pos uint64) error {
	err := l.db.Update(func(tx *bolt.Tx) error {
		watermarks := tx.Bucket(bucketWatermarks)
		key := watermarkKey(chain, watchAddress)
		if raw := watermarks.Get(key); raw != nil {
			if binary.BigEndian.Uint64(raw) >= pos {
				return nil
			}
		}
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], pos)
		return watermarks.Put(key, buf[:])
	})
	if err != nil {
		return &IOError{Err: err}
	}
	return nil
}

func watermarkKey(chain relay.Chain, watchAddress string) []byte {
	return []byte(fmt.Sprintf("%s|%s", chain, watchAddress))
}
