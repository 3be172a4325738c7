package chat

import (
	"encoding/json"
	"fmt"

	"chat-fanout/internal/metrics"

	"go.uber.org/zap"
)

// Broadcaster delivers one payload to every registered peer. A peer whose
// Send fails is removed and closed; delivery to the others continues.
type Broadcaster struct {
	registry *Registry
	metrics  *metrics.Collectors
	log      *zap.Logger
}

func NewBroadcaster(registry *Registry, m *metrics.Collectors, log *zap.Logger) *Broadcaster {
	return &Broadcaster{registry: registry, metrics: m, log: log}
}

// Fanout serializes event once and sends it to every peer.
func (b *Broadcaster) Fanout(event any) (int, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return 0, fmt.Errorf("encode event: %w", err)
	}
	return b.FanoutRaw(payload), nil
}

// FanoutRaw sends payload as is and returns the number of peers that accepted it.
func (b *Broadcaster) FanoutRaw(payload []byte) int {
	delivered := 0
	for _, p := range b.registry.Snapshot() {
		if err := p.Send(payload); err != nil {
			b.evict(p, err)
			continue
		}
		delivered++
	}
	if b.metrics != nil {
		b.metrics.Deliveries.Add(float64(delivered))
	}
	return delivered
}

func (b *Broadcaster) evict(p Peer, cause error) {
	if !b.registry.Remove(p) {
		return
	}
	b.log.Warn("evicting peer after failed send", zap.String("peer", p.ID()), zap.Error(cause))
	if b.metrics != nil {
		b.metrics.Evictions.Inc()
	}
	if err := p.Close(); err != nil {
		b.log.Debug("close after eviction", zap.String("peer", p.ID()), zap.Error(err))
	}
}
