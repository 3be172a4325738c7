// Package sequence assigns per-chat message sequence numbers.
//
// A chat's next sequence is one plus the highest sequence already stored for
// it, or 1 for an empty chat. Reading that maximum and inserting the new row
// must not interleave with another writer for the same chat, so callers run
// the whole read-then-insert unit inside Assigner.Do.
package sequence

import (
	"context"
	"fmt"
	"sync"
)

// Reader reports the highest sequence stored for a chat. ok is false when the
// chat has no messages yet.
type Reader interface {
	LatestSequence(ctx context.Context, chatID string) (latest int64, ok bool, err error)
}

// Next returns the sequence the next message of chatID must carry.
func Next(ctx context.Context, r Reader, chatID string) (int64, error) {
	latest, ok, err := r.LatestSequence(ctx, chatID)
	if err != nil {
		return 0, fmt.Errorf("read latest sequence for chat %s: %w", chatID, err)
	}
	if !ok {
		return 1, nil
	}
	return latest + 1, nil
}

// Assigner serializes sequence assignment per chat. Different chats never
// wait on each other.
type Assigner struct {
	mu    sync.Mutex
	chats map[string]*chatLock
}

type chatLock struct {
	sem  chan struct{}
	refs int
}

func NewAssigner() *Assigner {
	return &Assigner{chats: make(map[string]*chatLock)}
}

// Do runs fn while holding the lock for chatID. It gives up with ctx.Err()
// if the lock cannot be taken before ctx is done.
func (a *Assigner) Do(ctx context.Context, chatID string, fn func() error) error {
	l := a.acquireRef(chatID)
	defer a.releaseRef(chatID, l)

	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-l.sem }()

	return fn()
}

func (a *Assigner) acquireRef(chatID string) *chatLock {
	a.mu.Lock()
	defer a.mu.Unlock()
	l, ok := a.chats[chatID]
	if !ok {
		l = &chatLock{sem: make(chan struct{}, 1)}
		a.chats[chatID] = l
	}
	l.refs++
	return l
}

func (a *Assigner) releaseRef(chatID string, l *chatLock) {
	a.mu.Lock()
	defer a.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(a.chats, chatID)
	}
}

// active is the number of chats with a pending or running Do.
func (a *Assigner) active() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.chats)
}
