package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/tonbridge/relay/relay"
)

const (
	ATTESTATION_TTL = time.Minute * 10
)

// AttestationCache keeps recently produced attestations in memory so the
// status API can serve them without hitting the ledger. The ledger stays the
// source of truth; the cache is read-through only for freshness.
type AttestationCache struct {
	attCache *ttlcache.Cache[string, []byte]
}

func NewAttestationCache(ctx context.Context, sigChn chan interface{}) *AttestationCache {
	cache := ttlcache.New(
		ttlcache.WithTTL[string, []byte](ATTESTATION_TTL),
	)

	ac := &AttestationCache{
		attCache: cache,
	}

	go cache.Start()
	go ac.watch(ctx, sigChn)
	return ac
}

func (c *AttestationCache) Attestation(id string) ([]byte, error) {
	att := c.attCache.Get(id)
	if att == nil {
		return []byte{}, fmt.Errorf("no attestation found for event %s", id)
	}

	return att.Value(), nil
}

func (c *AttestationCache) watch(ctx context.Context, sigChn chan interface{}) {
	for {
		select {
		case sig := <-sigChn:
			{
				att, ok := sig.(relay.EventAttested)
				if !ok {
					continue
				}
				c.attCache.Set(att.EventID, att.Signature, ttlcache.DefaultTTL)
			}
		case <-ctx.Done():
			{
				c.attCache.Stop()
				return
			}
		}
	}
}
