// Package protocol defines the WebSocket messages exchanged between the
// backend and clients watching conversations for annotation changes.
package protocol

import "time"

// Message types from client to server
const (
	TypeSubscribe   = "subscribe"
	TypeUnsubscribe = "unsubscribe"
)

// Message types from server to client
const (
	TypeSubscribed         = "subscribed"
	TypeAnnotationsChanged = "annotations_changed"
	TypeError              = "error"
)

// BaseMessage contains common fields for all messages.
type BaseMessage struct {
	Type           string `json:"type"`
	Ts             int64  `json:"ts"`
	ConversationID string `json:"conversation_id,omitempty"`
}

// SubscribeMessage binds the connection to one conversation.
type SubscribeMessage struct {
	BaseMessage
}

// SubscribedMessage acknowledges a subscription.
type SubscribedMessage struct {
	BaseMessage
}

// AnnotationsChangedMessage tells subscribers to reload annotations. The
// annotation id is empty when the change was not a single create.
type AnnotationsChangedMessage struct {
	BaseMessage
	AnnotationID string `json:"annotation_id,omitempty"`
}

// ErrorMessage is sent when a client message cannot be handled.
type ErrorMessage struct {
	BaseMessage
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes
const (
	ErrorCodeInvalidMessage = "invalid_message"
)

// NewAnnotationsChanged builds the change event for a conversation.
func NewAnnotationsChanged(conversationID, annotationID string) AnnotationsChangedMessage {
	return AnnotationsChangedMessage{
		BaseMessage: BaseMessage{
			Type:           TypeAnnotationsChanged,
			Ts:             time.Now().UnixMilli(),
			ConversationID: conversationID,
		},
		AnnotationID: annotationID,
	}
}
