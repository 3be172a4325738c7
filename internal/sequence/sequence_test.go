package sequence

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memoryLog is a deliberately racy store: without Assigner.Do two writers
// could read the same maximum.
type memoryLog struct {
	mu   sync.Mutex
	seqs map[string][]int64
}

func (m *memoryLog) LatestSequence(_ context.Context, chatID string) (int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.seqs[chatID]
	if len(s) == 0 {
		return 0, false, nil
	}
	return s[len(s)-1], true, nil
}

func (m *memoryLog) append(chatID string, seq int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seqs[chatID] = append(m.seqs[chatID], seq)
}

type failingReader struct{}

func (failingReader) LatestSequence(context.Context, string) (int64, bool, error) {
	return 0, false, errors.New("db down")
}

func TestNextStartsAtOne(t *testing.T) {
	log := &memoryLog{seqs: map[string][]int64{}}
	seq, err := Next(context.Background(), log, "c1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), seq)
}

func TestNextFollowsLatest(t *testing.T) {
	log := &memoryLog{seqs: map[string][]int64{"c1": {1, 2, 3, 4, 5}}}
	seq, err := Next(context.Background(), log, "c1")
	require.NoError(t, err)
	assert.Equal(t, int64(6), seq)
}

func TestNextWrapsReaderError(t *testing.T) {
	_, err := Next(context.Background(), failingReader{}, "c1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db down")
}

func TestAssignerConcurrentWritersProduceGapFreeSequence(t *testing.T) {
	const writers = 64
	log := &memoryLog{seqs: map[string][]int64{}}
	a := NewAssigner()

	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := a.Do(context.Background(), "c1", func() error {
				seq, err := Next(context.Background(), log, "c1")
				if err != nil {
					return err
				}
				// widen the window between read and write
				time.Sleep(100 * time.Microsecond)
				log.append("c1", seq)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got := append([]int64(nil), log.seqs["c1"]...)
	sort.Slice(got, func(i, j int) bool { return got[i] < got[j] })
	require.Len(t, got, writers)
	for i, seq := range got {
		assert.Equal(t, int64(i+1), seq)
	}
	assert.Zero(t, a.active())
}

func TestAssignerTwoConcurrentFirstMessages(t *testing.T) {
	log := &memoryLog{seqs: map[string][]int64{}}
	a := NewAssigner()
	start := make(chan struct{})

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_ = a.Do(context.Background(), "empty", func() error {
				seq, err := Next(context.Background(), log, "empty")
				if err != nil {
					return err
				}
				log.append("empty", seq)
				return nil
			})
		}()
	}
	close(start)
	wg.Wait()

	assert.ElementsMatch(t, []int64{1, 2}, log.seqs["empty"])
}

func TestAssignerDoesNotBlockOtherChats(t *testing.T) {
	a := NewAssigner()
	holding := make(chan struct{})
	release := make(chan struct{})

	go func() {
		_ = a.Do(context.Background(), "busy", func() error {
			close(holding)
			<-release
			return nil
		})
	}()
	<-holding
	defer close(release)

	done := make(chan error, 1)
	go func() {
		done <- a.Do(context.Background(), "idle", func() error { return nil })
	}()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("lock on one chat blocked another chat")
	}
}

func TestAssignerHonorsContext(t *testing.T) {
	a := NewAssigner()
	holding := make(chan struct{})
	release := make(chan struct{})

	go func() {
		_ = a.Do(context.Background(), "c1", func() error {
			close(holding)
			<-release
			return nil
		})
	}()
	<-holding
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	called := false
	err := a.Do(ctx, "c1", func() error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, called)
}

func TestAssignerPropagatesFnError(t *testing.T) {
	a := NewAssigner()
	boom := errors.New("boom")
	err := a.Do(context.Background(), "c1", func() error { return boom })
	assert.ErrorIs(t, err, boom)

	// the lock must be released after an error
	err = a.Do(context.Background(), "c1", func() error { return nil })
	assert.NoError(t, err)
}
