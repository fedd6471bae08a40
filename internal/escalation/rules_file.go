package escalation

import (
	"context"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/notifyhub/alertflow/internal/domain"
)

// RuleUpserter stores a rule. *service.RuleService satisfies it.
type RuleUpserter interface {
	UpsertRule(ctx context.Context, r *domain.EscalationRule) (*domain.EscalationRule, error)
}

type rulesFile struct {
	Rules []struct {
		domain.EscalationRule `yaml:",inline"`
		// Rules are active unless the file says otherwise.
		Active *bool `yaml:"active"`
	} `yaml:"rules"`
}

// LoadRules parses a YAML rule document of the form
//
//	rules:
//	  - entity_type: leave
//	    trigger_event: requested
//	    delay_hours: 1
//	    escalation_chain:
//	      - role: manager
//	        after_hours: 0
func LoadRules(r io.Reader) ([]*domain.EscalationRule, error) {
	var f rulesFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && err != io.EOF {
		return nil, fmt.Errorf("decode rules: %w", err)
	}

	out := make([]*domain.EscalationRule, 0, len(f.Rules))
	for i, fr := range f.Rules {
		rule := fr.EscalationRule
		rule.Active = fr.Active == nil || *fr.Active
		if err := rule.Validate(); err != nil {
			return nil, fmt.Errorf("rule %d (%s/%s): %w", i, rule.EntityType, rule.TriggerEvent, err)
		}
		out = append(out, &rule)
	}
	return out, nil
}

// SeedRulesFile upserts every rule in the YAML file at path and returns how
// many were stored.
func SeedRulesFile(ctx context.Context, path string, store RuleUpserter) (int, error) {
	fh, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open rules file: %w", err)
	}
	defer fh.Close()

	rules, err := LoadRules(fh)
	if err != nil {
		return 0, err
	}
	for _, r := range rules {
		if _, err := store.UpsertRule(ctx, r); err != nil {
			return 0, fmt.Errorf("seed rule %s/%s: %w", r.EntityType, r.TriggerEvent, err)
		}
	}
	return len(rules), nil
}
