package core

import (
	"time"

	"github.com/encodeous/skein/state"
	"github.com/jellydator/ttlcache/v3"
	"github.com/zeebo/blake3"
)

type seenKey [32]byte

// seenSet remembers packet identities for a bounded time so floods terminate
type seenSet struct {
	cache *ttlcache.Cache[seenKey, struct{}]
}

func newSeenSet(ttl time.Duration) *seenSet {
	c := ttlcache.New[seenKey, struct{}](
		ttlcache.WithTTL[seenKey, struct{}](ttl),
		ttlcache.WithDisableTouchOnHit[seenKey, struct{}](),
	)
	go c.Start()
	return &seenSet{cache: c}
}

// dedupKey identifies a packet. Broadcasts are keyed by their origin and transaction,
// since every rebroadcast hop mints a new envelope id.
func dedupKey(pkt *state.NetPacket) seenKey {
	var id string
	if pkt.Header.Protocol == state.Broadcast {
		id = "bc|" + string(pkt.Body.Header.Source) + "|" + pkt.Body.Header.Transaction
	} else {
		id = "p2p|" + string(pkt.Header.Source) + "|" + pkt.Header.Id
	}
	return blake3.Sum256([]byte(id))
}

func (s *seenSet) Has(k seenKey) bool {
	return s.cache.Has(k)
}

func (s *seenSet) Mark(k seenKey) {
	s.cache.Set(k, struct{}{}, ttlcache.DefaultTTL)
}

func (s *seenSet) Len() int {
	return s.cache.Len()
}

func (s *seenSet) Stop() {
	s.cache.Stop()
	s.cache.DeleteAll()
}
