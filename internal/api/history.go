package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"chat-fanout/internal/repository"
	"chat-fanout/internal/types"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

const (
	defaultHistoryLimit = 100
	maxHistoryLimit     = 500
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, types.APIError{Error: msg})
}

// HistoryHandler serves a chat's messages after a given sequence so clients
// can recover what they missed while disconnected.
func HistoryHandler(chats repository.ChatRepo, messages repository.MessageRepo, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		chatID := mux.Vars(r)["chat"]

		after, err := queryInt(r, "after_sequence", 0)
		if err != nil || after < 0 {
			writeError(w, http.StatusBadRequest, "after_sequence must be a non-negative integer")
			return
		}
		limit, err := queryInt(r, "limit", defaultHistoryLimit)
		if err != nil || limit < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		if limit > maxHistoryLimit {
			limit = maxHistoryLimit
		}

		dbctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		if _, err := chats.GetChat(dbctx, chatID); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				writeError(w, http.StatusNotFound, "chat not found")
				return
			}
			log.Error("chat lookup failed", zap.String("chat", chatID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "internal server error")
			return
		}

		page, err := messages.ListByChat(dbctx, chatID, after, int(limit))
		if err != nil {
			log.Error("history query failed", zap.String("chat", chatID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "internal server error")
			return
		}

		next := after
		if n := len(page); n > 0 {
			next = page[n-1].Sequence
		}
		writeJSON(w, http.StatusOK, types.HistoryResponse{ChatID: chatID, Messages: page, NextAfter: next})
	}
}

func queryInt(r *http.Request, key string, def int64) (int64, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	return strconv.ParseInt(raw, 10, 64)
}
