package chat

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Peer is one admitted connection as seen by the fan-out path.
type Peer interface {
	ID() string
	// Send queues payload for delivery. It must not block on the network.
	Send(payload []byte) error
	Close() error
}

// Registry is the set of live connections. It is not scoped by chat or user;
// every admitted peer receives every broadcast.
type Registry struct {
	mu    sync.RWMutex
	peers map[Peer]time.Time
	gauge prometheus.Gauge
}

// NewRegistry returns an empty registry. gauge, if not nil, tracks its size.
func NewRegistry(gauge prometheus.Gauge) *Registry {
	return &Registry{
		peers: make(map[Peer]time.Time),
		gauge: gauge,
	}
}

func (r *Registry) Admit(p Peer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.peers[p]; ok {
		return
	}
	r.peers[p] = time.Now()
	if r.gauge != nil {
		r.gauge.Inc()
	}
}

// Remove drops p and reports whether it was present. Removing an absent peer
// is a no-op.
func (r *Registry) Remove(p Peer) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.peers[p]; !ok {
		return false
	}
	delete(r.peers, p)
	if r.gauge != nil {
		r.gauge.Dec()
	}
	return true
}

// Snapshot copies the current members so callers can send without holding
// the lock.
func (r *Registry) Snapshot() []Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	peers := make([]Peer, 0, len(r.peers))
	for p := range r.peers {
		peers = append(peers, p)
	}
	return peers
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}
