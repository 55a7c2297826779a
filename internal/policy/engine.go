// Package policy evaluates the annotation admission policy with OPA.
package policy

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/open-policy-agent/opa/rego"

	"github.com/xiaot623/annotator/internal/schema"
)

// Engine is the OPA policy engine.
type Engine struct {
	query rego.PreparedEvalQuery
}

// NewEngine creates a new policy engine with the given policy content.
func NewEngine(ctx context.Context, policyContent string) (*Engine, error) {
	r := rego.New(
		rego.Query("data.annotation_policy.violations"),
		rego.Module("annotation_policy.rego", policyContent),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare rego: %w", err)
	}

	return &Engine{query: query}, nil
}

// LoadEngine builds the engine from the policy file at path, or from
// DefaultPolicy when path is empty.
func LoadEngine(ctx context.Context, path string) (*Engine, error) {
	if path == "" {
		return NewEngine(ctx, DefaultPolicy)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}
	return NewEngine(ctx, string(content))
}

// RuleRef is the part of a rule the policy looks at.
type RuleRef struct {
	ID     string `json:"id"`
	Domain string `json:"domain"`
}

// ConversationRef is the part of a conversation the policy looks at.
type ConversationRef struct {
	ID             string `json:"id"`
	Domain         string `json:"domain"`
	MessageLengths []int  `json:"message_lengths"`
}

// Input is the document the admission policy is evaluated against.
type Input struct {
	Selection    schema.SelectionDoc `json:"selection"`
	Rule         RuleRef             `json:"rule"`
	Conversation ConversationRef     `json:"conversation"`
	Annotator    string              `json:"annotator"`
}

// Evaluate returns the reasons the annotation described by input must be
// rejected, sorted. An empty result admits it.
func (e *Engine) Evaluate(ctx context.Context, input Input) ([]string, error) {
	results, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate policy: %w", err)
	}

	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return nil, nil
	}

	raw, ok := results[0].Expressions[0].Value.([]interface{})
	if !ok {
		return nil, fmt.Errorf("policy returned %T, want a set of strings", results[0].Expressions[0].Value)
	}
	reasons := make([]string, 0, len(raw))
	for _, v := range raw {
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("policy violation %v is not a string", v)
		}
		reasons = append(reasons, s)
	}
	sort.Strings(reasons)
	return reasons, nil
}

// DefaultPolicy is the default admission policy.
const DefaultPolicy = `
package annotation_policy

import rego.v1

sel := input.selection

violations contains msg if {
	input.rule.domain != input.conversation.domain
	msg := sprintf("rule %s belongs to domain '%s', conversation %s to '%s'", [input.rule.id, input.rule.domain, input.conversation.id, input.conversation.domain])
}

violations contains "message_index must not be negative" if sel.message_index < 0

violations contains msg if {
	sel.message_index >= count(input.conversation.message_lengths)
	msg := sprintf("message_index %d out of range (%d messages)", [sel.message_index, count(input.conversation.message_lengths)])
}

violations contains "start_offset must not be negative" if sel.start_offset < 0

violations contains "end_offset must not precede start_offset" if sel.end_offset < sel.start_offset

violations contains msg if {
	n := input.conversation.message_lengths[sel.message_index]
	sel.end_offset > n
	msg := sprintf("end_offset %d beyond message length %d", [sel.end_offset, n])
}

violations contains msg if {
	not sel.type in {"violation", "compliance"}
	msg := sprintf("unknown type '%v'", [object.get(sel, "type", "")])
}

violations contains "violation_type must be text or missing" if {
	sel.type == "violation"
	not sel.violation_type in {"text", "missing"}
}

violations contains "violation_type is only allowed on violations" if {
	sel.type == "compliance"
	object.get(sel, "violation_type", "") != ""
}

violations contains "missing text requires replacement_suggestion" if {
	sel.violation_type == "missing"
	trim_space(object.get(sel, "replacement_suggestion", "")) == ""
}

violations contains "comment is required" if {
	trim_space(object.get(sel, "comment", "")) == ""
}
`
