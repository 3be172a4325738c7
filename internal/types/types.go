package types

import (
	"chat-fanout/internal/models"
)

// HistoryResponse is a page of a chat's messages in sequence order.
// NextAfter is the after_sequence value for the following page.
type HistoryResponse struct {
	ChatID    string            `json:"chat_id"`
	Messages  []*models.Message `json:"messages"`
	NextAfter int64             `json:"next_after_sequence"`
}

type APIError struct {
	Error string `json:"error"`
}

type HealthResponse struct {
	Status      string `json:"status"`
	Connections int    `json:"connections"`
}
