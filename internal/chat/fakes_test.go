package chat

import (
	"context"
	"errors"
	"sync"

	"chat-fanout/internal/models"
	"chat-fanout/internal/repository"
)

var errSendFailed = errors.New("send failed")

type fakePeer struct {
	id   string
	fail bool

	mu     sync.Mutex
	frames [][]byte
	closes int
}

func newFakePeer(id string) *fakePeer { return &fakePeer{id: id} }

func inRegistry(r *Registry, p Peer) bool {
	for _, q := range r.Snapshot() {
		if q == p {
			return true
		}
	}
	return false
}

func (p *fakePeer) ID() string { return p.id }

func (p *fakePeer) Send(payload []byte) error {
	if p.fail {
		return errSendFailed
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.frames = append(p.frames, payload)
	return nil
}

func (p *fakePeer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closes++
	return nil
}

func (p *fakePeer) received() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([][]byte(nil), p.frames...)
}

func (p *fakePeer) closeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closes
}

// memoryStore keeps messages in a map and numbers them like the real stores.
type memoryStore struct {
	mu        sync.Mutex
	chats     map[string]bool
	ids       map[string]bool
	latest    map[string]int64
	createErr error
}

func newMemoryStore(chats ...string) *memoryStore {
	s := &memoryStore{
		chats:  make(map[string]bool),
		ids:    make(map[string]bool),
		latest: make(map[string]int64),
	}
	for _, c := range chats {
		s.chats[c] = true
	}
	return s
}

func (s *memoryStore) GetChat(_ context.Context, name string) (*models.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.chats[name] {
		return nil, repository.ErrNotFound
	}
	return &models.Chat{ChatName: name}, nil
}

func (s *memoryStore) Create(_ context.Context, m *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return s.createErr
	}
	if s.ids[m.ID] {
		return repository.ErrDuplicateMessage
	}
	s.ids[m.ID] = true
	s.latest[m.ChatID]++
	m.Sequence = s.latest[m.ChatID]
	return nil
}
