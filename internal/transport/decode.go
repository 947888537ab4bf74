package transport

import (
	"encoding/json"
	"fmt"
)

// payloadFactories maps inbound event names to constructors for their typed
// payloads. An event missing from this table is unknown to the client and
// its frames are rejected at the boundary.
var payloadFactories = map[string]func() any{
	EventJoinRoomSuccess:       func() any { return &RoomPayload{} },
	EventJoinRoomError:         func() any { return &RoomErrorPayload{} },
	EventJoinAllRoomsSuccess:   func() any { return &EmptyPayload{} },
	EventMessageSent:           func() any { return &MessageSentPayload{} },
	EventMessageReceived:       func() any { return &MessageReceivedPayload{} },
	EventMessageStatusUpdated:  func() any { return &MessageStatusPayload{} },
	EventMessageError:          func() any { return &ErrorPayload{} },
	EventGetMessagesSuccess:    func() any { return &MessagesPayload{} },
	EventTypingStarted:         func() any { return &TypingPayload{} },
	EventTypingStopped:         func() any { return &TypingPayload{} },
	EventContactStatusUpdate:   func() any { return &ContactStatusPayload{} },
	EventGetContactsSuccess:    func() any { return &ContactsPayload{} },
	EventGetContactsError:      func() any { return &ErrorPayload{} },
	EventContactsChanged:       func() any { return &ContactsChangedPayload{} },
	EventContactProfileUpdated: func() any { return &ProfileUpdatedPayload{} },
	EventForcedDisconnect:      func() any { return &EmptyPayload{} },
}

// Decode validates an inbound frame and unmarshals its data into the typed
// payload for that event name.
func Decode(f *Frame) (any, error) {
	factory, ok := payloadFactories[f.Event]
	if !ok {
		return nil, fmt.Errorf("unknown event %q", f.Event)
	}
	payload := factory()
	if len(f.Data) == 0 {
		return payload, nil
	}
	if err := json.Unmarshal(f.Data, payload); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", f.Event, err)
	}
	return payload, nil
}

// EncodeFrame builds an outbound frame from an event name and payload.
func EncodeFrame(event string, payload any) (*Frame, error) {
	if payload == nil {
		return &Frame{Event: event}, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", event, err)
	}
	return &Frame{Event: event, Data: data}, nil
}
