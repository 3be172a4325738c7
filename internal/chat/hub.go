package chat

import (
	"context"
	"errors"
	"time"

	"chat-fanout/internal/metrics"
	"chat-fanout/internal/models"
	"chat-fanout/internal/repository"
	"chat-fanout/internal/types"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const defaultPersistTimeout = 5 * time.Second

// MessageStore is the persistence the hub needs for chat messages. Create
// must assign Message.Sequence atomically with the insert.
type MessageStore interface {
	GetChat(ctx context.Context, chatName string) (*models.Chat, error)
	Create(ctx context.Context, message *models.Message) error
}

// Hub ties the registry, the router output and the broadcaster together.
// Chat messages are stored before they are announced; every other event kind
// is relayed without persistence.
type Hub struct {
	registry       *Registry
	broadcaster    *Broadcaster
	store          MessageStore
	metrics        *metrics.Collectors
	log            *zap.Logger
	persistTimeout time.Duration
}

func NewHub(store MessageStore, m *metrics.Collectors, log *zap.Logger) *Hub {
	log = log.Named("hub")
	registry := NewRegistry(m.ActiveConnections)
	log.Info("hub initialized")
	return &Hub{
		registry:       registry,
		broadcaster:    NewBroadcaster(registry, m, log),
		store:          store,
		metrics:        m,
		log:            log,
		persistTimeout: defaultPersistTimeout,
	}
}

func (h *Hub) Registry() *Registry { return h.registry }

// Dispatch handles one classified frame received from sender. It returns
// once the resulting fan-out, if any, has been handed to every peer.
func (h *Hub) Dispatch(ctx context.Context, sender Peer, ev Event) {
	h.metrics.Frames.WithLabelValues(ev.Kind.String()).Inc()

	switch ev.Kind {
	case KindMessage:
		h.handleMessage(ctx, sender, ev.Message)

	case KindEdit:
		payload, err := ev.EditPayload()
		if err != nil {
			h.log.Warn("dropping edit that cannot be encoded", zap.String("peer", sender.ID()), zap.Error(err))
			return
		}
		h.broadcaster.FanoutRaw(payload)

	case KindReaction, KindMembershipUpdate, KindCallSignal:
		h.broadcaster.FanoutRaw(ev.Raw)

	default:
		h.log.Debug("dropping unrecognized frame", zap.String("peer", sender.ID()), zap.Int("bytes", len(ev.Raw)))
	}
}

func (h *Hub) handleMessage(ctx context.Context, sender Peer, frame *types.MessageFrame) {
	msg := newMessage(frame)

	start := time.Now()
	code, err := h.persist(ctx, msg)
	h.metrics.PersistLatency.Observe(time.Since(start).Seconds())

	if err != nil {
		h.metrics.PersistFailures.WithLabelValues(string(code)).Inc()
		h.log.Warn("message not stored",
			zap.String("peer", sender.ID()),
			zap.String("id", msg.ID),
			zap.String("chat", msg.ChatID),
			zap.String("code", string(code)),
			zap.Error(err),
		)
		if sendErr := sender.Send(types.NewErrorFrame(code, msg.ID, errorText(code))); sendErr != nil {
			h.log.Debug("could not report error to sender", zap.String("peer", sender.ID()), zap.Error(sendErr))
		}
		return
	}
	h.metrics.Persisted.Inc()

	if _, err := h.broadcaster.Fanout(msg); err != nil {
		h.log.Error("stored message could not be encoded", zap.String("id", msg.ID), zap.Error(err))
	}
}

func (h *Hub) persist(ctx context.Context, msg *models.Message) (types.ErrorCode, error) {
	ctx, cancel := context.WithTimeout(ctx, h.persistTimeout)
	defer cancel()

	if _, err := h.store.GetChat(ctx, msg.ChatID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return types.CodeChatNotFound, err
		}
		return types.CodePersistenceFailed, err
	}

	if err := h.store.Create(ctx, msg); err != nil {
		if errors.Is(err, repository.ErrDuplicateMessage) {
			return types.CodeConflict, err
		}
		return types.CodePersistenceFailed, err
	}
	return "", nil
}

// Shutdown closes every admitted peer.
func (h *Hub) Shutdown() {
	peers := h.registry.Snapshot()
	h.log.Info("closing all connections", zap.Int("count", len(peers)))
	for _, p := range peers {
		if h.registry.Remove(p) {
			_ = p.Close()
		}
	}
}

func errorText(code types.ErrorCode) string {
	switch code {
	case types.CodeConflict:
		return "a message with this id already exists"
	case types.CodeChatNotFound:
		return "chat does not exist"
	default:
		return "message could not be stored"
	}
}

func newMessage(f *types.MessageFrame) *models.Message {
	parent, _ := f.ParentID()
	msg := &models.Message{
		ID:              f.ID,
		ChatID:          f.ChatID,
		SenderID:        *f.SenderID,
		ParentMessageID: parent,
		Body:            *f.Message,
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if f.Seen != nil {
		msg.Seen = *f.Seen
	}
	if f.IsFile != nil {
		msg.IsFile = *f.IsFile
	}
	return msg
}
