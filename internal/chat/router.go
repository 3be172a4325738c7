package chat

import (
	"bytes"
	"encoding/json"

	"chat-fanout/internal/types"
)

type Kind int

const (
	KindUnrecognized Kind = iota
	KindMessage
	KindReaction
	KindEdit
	KindMembershipUpdate
	KindCallSignal
)

func (k Kind) String() string {
	switch k {
	case KindMessage:
		return "message"
	case KindReaction:
		return "reaction"
	case KindEdit:
		return "edit"
	case KindMembershipUpdate:
		return "membership_update"
	case KindCallSignal:
		return "call_signal"
	default:
		return "unrecognized"
	}
}

const (
	keyReaction      = "reaction"
	keyEdit          = "edit"
	keyMembers       = "update_chat_members"
	keyType          = "type"
	keyChatID        = "chat_id"
	editDiscriminant = "edit"
)

// Event is a classified inbound frame. Raw is the frame as received.
type Event struct {
	Kind    Kind
	Raw     []byte
	Message *types.MessageFrame
	Edit    map[string]json.RawMessage
}

// Classify decodes a chat-channel frame. Variants are tried in a fixed order
// and the first match wins: reaction, edit, update_chat_members, type (call
// signal), then chat message. A message body that carries a "reaction" key
// is therefore a reaction.
func Classify(frame []byte) Event {
	fields, ok := decodeObject(frame)
	if !ok {
		return Event{Kind: KindUnrecognized, Raw: frame}
	}

	if _, ok := fields[keyReaction]; ok {
		if isNull(fields[keyChatID]) {
			return Event{Kind: KindUnrecognized, Raw: frame}
		}
		return Event{Kind: KindReaction, Raw: frame}
	}

	if raw, ok := fields[keyEdit]; ok {
		edit, ok := decodeObject(raw)
		if !ok {
			return Event{Kind: KindUnrecognized, Raw: frame}
		}
		return Event{Kind: KindEdit, Raw: frame, Edit: edit}
	}

	if _, ok := fields[keyMembers]; ok {
		return Event{Kind: KindMembershipUpdate, Raw: frame}
	}

	if _, ok := fields[keyType]; ok {
		return Event{Kind: KindCallSignal, Raw: frame}
	}

	var msg types.MessageFrame
	if err := json.Unmarshal(frame, &msg); err != nil || !msg.Valid() {
		return Event{Kind: KindUnrecognized, Raw: frame}
	}
	return Event{Kind: KindMessage, Raw: frame, Message: &msg}
}

// ClassifyCall decodes a call-channel frame. Any JSON object is relayed.
func ClassifyCall(frame []byte) Event {
	if _, ok := decodeObject(frame); !ok {
		return Event{Kind: KindUnrecognized, Raw: frame}
	}
	return Event{Kind: KindCallSignal, Raw: frame}
}

// EditPayload is the broadcast form of an edit: the edited fields plus
// "edit":"edit".
func (e Event) EditPayload() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(e.Edit)+1)
	for k, v := range e.Edit {
		out[k] = v
	}
	out[keyEdit] = json.RawMessage(`"` + editDiscriminant + `"`)
	return json.Marshal(out)
}

func decodeObject(raw []byte) (map[string]json.RawMessage, bool) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return nil, false
	}
	return fields, true
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
