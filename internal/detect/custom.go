package detect

import (
	"fmt"
	"sort"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// FlagRuleSet holds compiled operator-defined flag rules. Rules are
// CEL expressions over transaction fields; a true result flags the
// transaction with the rule's fraud type and risk score.
type FlagRuleSet struct {
	mu       sync.RWMutex
	env      *cel.Env
	compiled map[string]*compiledFlagRule
}

type compiledFlagRule struct {
	config  *domain.FlagRule
	program cel.Program
}

// Match is one transaction flagged by a custom rule.
type Match struct {
	Transaction domain.Transaction
	FraudType   string
	RiskScore   int
}

// NewFlagRuleSet creates an empty rule set with the CEL environment
// exposing transaction fields.
func NewFlagRuleSet() (*FlagRuleSet, error) {
	env, err := cel.NewEnv(
		cel.Variable("amount", cel.DoubleType),
		cel.Variable("account_id", cel.StringType),
		cel.Variable("merchant_name", cel.StringType),
		cel.Variable("transaction_type", cel.StringType),
		cel.Variable("location", cel.StringType),
		cel.Variable("ip_address", cel.StringType),
		cel.Variable("date", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &FlagRuleSet{
		env:      env,
		compiled: make(map[string]*compiledFlagRule),
	}, nil
}

// ValidateRule compiles a rule without loading it.
func (s *FlagRuleSet) ValidateRule(cfg *domain.FlagRule) error {
	if cfg == nil {
		return fmt.Errorf("flag rule config is required")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	_, err := s.compileRule(cfg)
	return err
}

// LoadRule compiles and loads a rule into the set.
func (s *FlagRuleSet) LoadRule(cfg *domain.FlagRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	compiled, err := s.compileRule(cfg)
	if err != nil {
		return err
	}

	s.compiled[cfg.ID] = compiled
	return nil
}

// LoadRules compiles and loads multiple rules, skipping disabled ones.
func (s *FlagRuleSet) LoadRules(configs []*domain.FlagRule) error {
	for _, cfg := range configs {
		if cfg.Enabled {
			if err := s.LoadRule(cfg); err != nil {
				return err
			}
		}
	}
	return nil
}

// ReloadRules clears all existing rules and loads new ones.
// This enables hot-reloading of rules from the database.
func (s *FlagRuleSet) ReloadRules(configs []*domain.FlagRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	newRules := make(map[string]*compiledFlagRule)
	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}
		compiled, err := s.compileRule(cfg)
		if err != nil {
			return err
		}
		newRules[cfg.ID] = compiled
	}

	s.compiled = newRules
	return nil
}

// Evaluate runs every loaded rule against the batch. Matches are
// returned grouped by rule, rules in ID order, transactions in batch
// order, so detection output is deterministic.
func (s *FlagRuleSet) Evaluate(txs []domain.Transaction) []Match {
	s.mu.RLock()
	rules := make([]*compiledFlagRule, 0, len(s.compiled))
	for _, r := range s.compiled {
		rules = append(rules, r)
	}
	s.mu.RUnlock()

	if len(rules) == 0 {
		return nil
	}

	sort.Slice(rules, func(i, j int) bool {
		return rules[i].config.ID < rules[j].config.ID
	})

	var matches []Match
	for _, rule := range rules {
		for _, tx := range txs {
			out, _, err := rule.program.Eval(activation(tx))
			if err != nil {
				// Evaluation errors on individual rows do not abort the
				// batch; the row simply does not match.
				continue
			}
			if b, ok := out.(types.Bool); ok && bool(b) {
				matches = append(matches, Match{
					Transaction: tx,
					FraudType:   rule.config.FraudType,
					RiskScore:   rule.config.RiskScore,
				})
			}
		}
	}
	return matches
}

// RulesCount returns the number of loaded rules.
func (s *FlagRuleSet) RulesCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.compiled)
}

// GetLoadedRules returns the currently loaded rule configurations.
func (s *FlagRuleSet) GetLoadedRules() []*domain.FlagRule {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rules := make([]*domain.FlagRule, 0, len(s.compiled))
	for _, compiled := range s.compiled {
		rules = append(rules, compiled.config)
	}
	return rules
}

// Close cleans up the rule set.
func (s *FlagRuleSet) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.compiled = make(map[string]*compiledFlagRule)
	return nil
}

func (s *FlagRuleSet) compileRule(cfg *domain.FlagRule) (*compiledFlagRule, error) {
	if cfg.FraudType == "" {
		return nil, fmt.Errorf("rule %s: fraudType is required", cfg.ID)
	}
	if cfg.RiskScore < 0 || cfg.RiskScore > 100 {
		return nil, fmt.Errorf("rule %s: riskScore must be in [0,100], got %d", cfg.ID, cfg.RiskScore)
	}

	ast, issues := s.env.Compile(cfg.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile rule %s: %w", cfg.ID, issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("rule %s: expression must return bool, got %s", cfg.ID, ast.OutputType())
	}

	program, err := s.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for rule %s: %w", cfg.ID, err)
	}

	return &compiledFlagRule{
		config:  cfg,
		program: program,
	}, nil
}

func activation(tx domain.Transaction) map[string]any {
	return map[string]any{
		"amount":           tx.Amount,
		"account_id":       tx.AccountID,
		"merchant_name":    tx.MerchantName,
		"transaction_type": tx.Type,
		"location":         tx.Location,
		"ip_address":       tx.IPAddress,
		"date":             tx.Date,
	}
}
