package chat

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"chat-fanout/internal/metrics"
	"chat-fanout/internal/types"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestHub(t *testing.T, store MessageStore) (*Hub, *metrics.Collectors) {
	t.Helper()
	m := metrics.New(prometheus.NewRegistry())
	return NewHub(store, m, zaptest.NewLogger(t)), m
}

func admit(h *Hub, ids ...string) []*fakePeer {
	peers := make([]*fakePeer, len(ids))
	for i, id := range ids {
		peers[i] = newFakePeer(id)
		h.Registry().Admit(peers[i])
	}
	return peers
}

func decodeFrame(t *testing.T, raw []byte) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}

func TestDispatchMessagePersistsThenBroadcasts(t *testing.T) {
	store := newMemoryStore("c1")
	store.latest["c1"] = 5
	h, m := newTestHub(t, store)
	peers := admit(h, "a", "b")

	h.Dispatch(context.Background(), peers[0], Classify([]byte(`{"id":"m6","chat_id":"c1","sender_id":7,"message":"hi"}`)))

	for _, p := range peers {
		require.Len(t, p.received(), 1, p.id)
		frame := decodeFrame(t, p.received()[0])
		assert.Equal(t, "m6", frame["id"])
		assert.Equal(t, float64(6), frame["chat_sequence"])
		assert.Equal(t, "hi", frame["message"])
		assert.Equal(t, float64(7), frame["sender_id"])
		assert.Contains(t, frame, "created_at")
	}
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Persisted))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Frames.WithLabelValues("message")))
}

func TestDispatchMessageWithNumericParent(t *testing.T) {
	h, _ := newTestHub(t, newMemoryStore("c1"))
	peers := admit(h, "a", "b")

	h.Dispatch(context.Background(), peers[0], Classify([]byte(`{"chat_id":"c1","sender_id":7,"message":"reply","parent_message_id":12}`)))
	h.Dispatch(context.Background(), peers[0], Classify([]byte(`{"chat_id":"c1","sender_id":7,"message":"top","parent_message_id":0}`)))

	for _, p := range peers {
		require.Len(t, p.received(), 2, p.id)
		assert.Equal(t, "12", decodeFrame(t, p.received()[0])["parent_message_id"])
		assert.Nil(t, decodeFrame(t, p.received()[1])["parent_message_id"])
	}
}

func TestDispatchPersistenceErrorsGoToSenderOnly(t *testing.T) {
	cases := []struct {
		name  string
		setup func(*memoryStore)
		frame string
		code  types.ErrorCode
	}{
		{
			name:  "unknown chat",
			setup: func(*memoryStore) {},
			frame: `{"id":"m1","chat_id":"ghost","sender_id":7,"message":"hi"}`,
			code:  types.CodeChatNotFound,
		},
		{
			name:  "duplicate id",
			setup: func(s *memoryStore) { s.ids["m1"] = true },
			frame: `{"id":"m1","chat_id":"c1","sender_id":7,"message":"hi"}`,
			code:  types.CodeConflict,
		},
		{
			name:  "store down",
			setup: func(s *memoryStore) { s.createErr = errors.New("connection refused") },
			frame: `{"id":"m1","chat_id":"c1","sender_id":7,"message":"hi"}`,
			code:  types.CodePersistenceFailed,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := newMemoryStore("c1")
			tc.setup(store)
			h, m := newTestHub(t, store)
			peers := admit(h, "sender", "other")

			h.Dispatch(context.Background(), peers[0], Classify([]byte(tc.frame)))

			require.Len(t, peers[0].received(), 1)
			var frame types.ErrorFrame
			require.NoError(t, json.Unmarshal(peers[0].received()[0], &frame))
			assert.Equal(t, tc.code, frame.Error.Code)
			assert.Equal(t, "m1", frame.ID)
			assert.NotEmpty(t, frame.Error.Message)

			assert.Empty(t, peers[1].received())
			assert.Equal(t, 2, h.Registry().Len())
			assert.Equal(t, float64(1), testutil.ToFloat64(m.PersistFailures.WithLabelValues(string(tc.code))))
		})
	}
}

func TestDispatchRelaysNotificationsUnmodified(t *testing.T) {
	frames := []string{
		`{"reaction":"👍","chat_id":"c1"}`,
		`{"update_chat_members":{"chat_id":"g","user_ids":[1,2]}}`,
		`{"type":"offer","sdp":"v=0"}`,
	}
	for _, raw := range frames {
		h, _ := newTestHub(t, newMemoryStore())
		peers := admit(h, "a", "b", "c")

		h.Dispatch(context.Background(), peers[0], Classify([]byte(raw)))

		for _, p := range peers {
			require.Len(t, p.received(), 1, raw)
			assert.Equal(t, raw, string(p.received()[0]))
		}
	}
}

func TestDispatchEditFlattens(t *testing.T) {
	h, _ := newTestHub(t, newMemoryStore())
	peers := admit(h, "a", "b")

	h.Dispatch(context.Background(), peers[0], Classify([]byte(`{"edit":{"id":"m1","message":"fixed"}}`)))

	for _, p := range peers {
		require.Len(t, p.received(), 1)
		assert.JSONEq(t, `{"id":"m1","message":"fixed","edit":"edit"}`, string(p.received()[0]))
	}
}

func TestDispatchDropsUnrecognized(t *testing.T) {
	h, m := newTestHub(t, newMemoryStore("c1"))
	peers := admit(h, "a", "b")

	h.Dispatch(context.Background(), peers[0], Classify([]byte(`{"chat_id":"c1"}`)))
	h.Dispatch(context.Background(), peers[0], Classify([]byte(`not json`)))

	assert.Empty(t, peers[0].received())
	assert.Empty(t, peers[1].received())
	assert.Equal(t, 2, h.Registry().Len())
	assert.Equal(t, float64(2), testutil.ToFloat64(m.Frames.WithLabelValues("unrecognized")))
}

func TestShutdownClosesEveryPeer(t *testing.T) {
	h, m := newTestHub(t, newMemoryStore())
	peers := admit(h, "a", "b", "c")

	h.Shutdown()
	h.Shutdown()

	assert.Zero(t, h.Registry().Len())
	assert.Zero(t, testutil.ToFloat64(m.ActiveConnections))
	for _, p := range peers {
		assert.Equal(t, 1, p.closeCount())
	}
}
