package domain

import (
	"time"
	"unicode/utf8"
)

// Message is one turn of a conversation. It is identified by its index.
type Message struct {
	Author    string    `json:"author"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Len returns the length of the raw message text in characters (code points).
// Offsets into the message are always measured in the same unit.
func (m Message) Len() int {
	return utf8.RuneCountInString(m.Message)
}

// Conversation is a multi-turn transcript loaded read-only by the client.
type Conversation struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Categories   []string  `json:"categories"`
	Conversation []Message `json:"conversation"`
	PostURL      string    `json:"postUrl"`
	Length       int       `json:"length"`
	LastUpdated  time.Time `json:"lastUpdated"`
	Domain       string    `json:"domain"`
}

// MessageAt returns the message at index i.
func (c *Conversation) MessageAt(i int) (Message, bool) {
	if i < 0 || i >= len(c.Conversation) {
		return Message{}, false
	}
	return c.Conversation[i], true
}

// ConversationPatch holds the fields of a partial conversation update.
type ConversationPatch struct {
	Title        *string   `json:"title,omitempty"`
	Categories   []string  `json:"categories,omitempty"`
	Conversation []Message `json:"conversation,omitempty"`
	PostURL      *string   `json:"postUrl,omitempty"`
	Domain       *string   `json:"domain,omitempty"`
}

// Rule is a flat rule catalog entry scoped to a domain.
type Rule struct {
	ID          string `json:"id"`
	Domain      string `json:"domain"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
}

// RulePatch holds the fields of a partial rule update.
type RulePatch struct {
	Domain      *string `json:"domain,omitempty"`
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	Category    *string `json:"category,omitempty"`
}

// RulesForDomain returns the rules whose domain equals domain, in catalog order.
func RulesForDomain(rules []Rule, domain string) []Rule {
	out := make([]Rule, 0, len(rules))
	for _, r := range rules {
		if r.Domain == domain {
			out = append(out, r)
		}
	}
	return out
}

// Annotation is a persisted judgment. The client never mutates one.
type Annotation struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	Selection      Selection `json:"selection"`
	Annotator      string    `json:"annotator"`
	Timestamp      time.Time `json:"timestamp"`
}
