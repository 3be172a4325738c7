package types

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// MessageFrame is the inbound shape of a chat message.
type MessageFrame struct {
	ID              string          `json:"id,omitempty"`
	ChatID          string          `json:"chat_id"`
	SenderID        *int64          `json:"sender_id"`
	ParentMessageID json.RawMessage `json:"parent_message_id,omitempty"`
	Message         *string         `json:"message"`
	Seen            *bool           `json:"seen,omitempty"`
	IsFile          *bool           `json:"is_file,omitempty"`
}

// Valid reports whether the required fields are present and the parent
// reference, if any, is usable.
func (f *MessageFrame) Valid() bool {
	if f.ChatID == "" || f.SenderID == nil || f.Message == nil {
		return false
	}
	_, ok := f.ParentID()
	return ok
}

// ParentID normalizes parent_message_id. Clients send either the string id
// or an integer; null, "", and 0 all mean no parent. ok is false for any
// other JSON value.
func (f *MessageFrame) ParentID() (id *string, ok bool) {
	raw := bytes.TrimSpace(f.ParentMessageID)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, true
	}

	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, false
		}
		if s == "" {
			return nil, true
		}
		return &s, true
	}

	n, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil || n < 0 {
		return nil, false
	}
	if n == 0 {
		return nil, true
	}
	s := strconv.FormatInt(n, 10)
	return &s, true
}

type ErrorCode string

const (
	CodeConflict          ErrorCode = "conflict"
	CodeChatNotFound      ErrorCode = "chat_not_found"
	CodePersistenceFailed ErrorCode = "persistence_failed"
	CodeRateLimited       ErrorCode = "rate_limited"
)

type ErrorBody struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// ErrorFrame is written to the sending connection only. ID echoes the
// message id the error refers to, if any.
type ErrorFrame struct {
	Error ErrorBody `json:"error"`
	ID    string    `json:"id,omitempty"`
}

func NewErrorFrame(code ErrorCode, id, message string) []byte {
	payload, _ := json.Marshal(ErrorFrame{
		Error: ErrorBody{Code: code, Message: message},
		ID:    id,
	})
	return payload
}
