package backend

import (
	"context"
	"errors"
	"fmt"
)

// DeleteTarget names the collection a PendingDelete refers to.
type DeleteTarget string

const (
	TargetRule         DeleteTarget = "rule"
	TargetConversation DeleteTarget = "conversation"
)

// ErrDeleteNotRequested is returned by ConfirmDelete for a nil or already
// confirmed request.
var ErrDeleteNotRequested = errors.New("delete was not requested")

// PendingDelete is the first step of a delete: the target has been looked up
// and described, nothing has been removed yet.
type PendingDelete struct {
	Target DeleteTarget
	ID     string
	Label  string

	// Annotations is the number of annotations removed along with a
	// conversation.
	Annotations int

	done bool
}

// Describe returns a one-line description suitable for a confirmation prompt.
func (p *PendingDelete) Describe() string {
	if p.Target == TargetConversation {
		return fmt.Sprintf("delete conversation %q (%s) and its %d annotation(s)", p.Label, p.ID, p.Annotations)
	}
	return fmt.Sprintf("delete %s %q (%s)", p.Target, p.Label, p.ID)
}

// RequestRuleDelete looks up a rule and returns the pending delete for it.
func (c *Client) RequestRuleDelete(ctx context.Context, id string) (*PendingDelete, error) {
	rule, err := c.GetRule(ctx, id)
	if err != nil {
		return nil, err
	}
	return &PendingDelete{Target: TargetRule, ID: rule.ID, Label: rule.Name}, nil
}

// RequestConversationDelete looks up a conversation and returns the pending
// delete for it.
func (c *Client) RequestConversationDelete(ctx context.Context, id string) (*PendingDelete, error) {
	conv, err := c.GetConversation(ctx, id)
	if err != nil {
		return nil, err
	}
	anns, err := c.ListAnnotations(ctx, conv.ID)
	if err != nil {
		return nil, err
	}
	return &PendingDelete{Target: TargetConversation, ID: conv.ID, Label: conv.Title, Annotations: len(anns)}, nil
}

// ConfirmDelete performs a delete obtained from one of the Request methods.
// A pending delete can be confirmed once.
func (c *Client) ConfirmDelete(ctx context.Context, p *PendingDelete) error {
	if p == nil || p.done {
		return ErrDeleteNotRequested
	}

	var err error
	switch p.Target {
	case TargetRule:
		err = c.DeleteRule(ctx, p.ID)
	case TargetConversation:
		err = c.DeleteConversation(ctx, p.ID)
	default:
		return fmt.Errorf("unknown delete target %q", p.Target)
	}
	if err != nil {
		return err
	}
	p.done = true
	return nil
}
