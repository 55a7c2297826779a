package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/xiaot623/annotator/internal/domain"
)

func (s *Service) ListRules(ctx context.Context, domainName string) ([]domain.Rule, error) {
	rules, err := s.store.ListRules(ctx, domainName)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	return rules, nil
}

func (s *Service) GetRule(ctx context.Context, id string) (*domain.Rule, error) {
	rule, err := s.store.GetRule(ctx, id)
	if err != nil {
		return nil, notFound(err, "get rule %s", id)
	}
	return rule, nil
}

func validateRule(r *domain.Rule) error {
	if strings.TrimSpace(r.Name) == "" {
		return invalid("rule name is required")
	}
	if strings.TrimSpace(r.Domain) == "" {
		return invalid("rule domain is required")
	}
	return nil
}

// CreateRule stores a new rule under a fresh identifier.
func (s *Service) CreateRule(ctx context.Context, rule domain.Rule) (*domain.Rule, error) {
	if err := validateRule(&rule); err != nil {
		return nil, err
	}
	rule.ID = uuid.NewString()
	if err := s.store.CreateRule(ctx, &rule); err != nil {
		return nil, fmt.Errorf("failed to create rule: %w", err)
	}
	s.log.InfoContext(ctx, "rule created", "rule_id", rule.ID, "domain", rule.Domain)
	return &rule, nil
}

// UpdateRule applies a partial update.
func (s *Service) UpdateRule(ctx context.Context, id string, patch domain.RulePatch) (*domain.Rule, error) {
	rule, err := s.store.GetRule(ctx, id)
	if err != nil {
		return nil, notFound(err, "update rule %s", id)
	}
	if patch.Domain != nil {
		rule.Domain = *patch.Domain
	}
	if patch.Name != nil {
		rule.Name = *patch.Name
	}
	if patch.Description != nil {
		rule.Description = *patch.Description
	}
	if patch.Category != nil {
		rule.Category = *patch.Category
	}
	if err := validateRule(rule); err != nil {
		return nil, err
	}
	if err := s.store.UpdateRule(ctx, rule); err != nil {
		return nil, notFound(err, "update rule %s", id)
	}
	return rule, nil
}

func (s *Service) DeleteRule(ctx context.Context, id string) error {
	if err := s.store.DeleteRule(ctx, id); err != nil {
		return notFound(err, "delete rule %s", id)
	}
	s.log.InfoContext(ctx, "rule deleted", "rule_id", id)
	return nil
}
