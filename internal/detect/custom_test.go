package detect

import (
	"testing"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func TestFlagRuleSetLoad(t *testing.T) {
	set, err := NewFlagRuleSet()
	if err != nil {
		t.Fatalf("failed to create rule set: %v", err)
	}
	defer set.Close()

	rule := &domain.FlagRule{
		ID:         "crypto-merchants",
		Name:       "Crypto merchant watch",
		Expression: `merchant_name == "CryptoX"`,
		FraudType:  "Watched Merchant",
		RiskScore:  45,
		Enabled:    true,
	}

	if err := set.LoadRule(rule); err != nil {
		t.Fatalf("failed to load rule: %v", err)
	}
	if set.RulesCount() != 1 {
		t.Errorf("expected 1 rule, got %d", set.RulesCount())
	}
}

func TestFlagRuleSetRejectsInvalidExpression(t *testing.T) {
	set, _ := NewFlagRuleSet()
	defer set.Close()

	err := set.LoadRule(&domain.FlagRule{
		ID:         "broken",
		Expression: "this is not valid CEL !!!",
		FraudType:  "Broken",
		RiskScore:  10,
		Enabled:    true,
	})
	if err == nil {
		t.Error("expected error for invalid CEL expression")
	}
}

func TestFlagRuleSetRejectsNonBool(t *testing.T) {
	set, _ := NewFlagRuleSet()
	defer set.Close()

	err := set.LoadRule(&domain.FlagRule{
		ID:         "numeric",
		Expression: "amount * 2.0",
		FraudType:  "Numeric",
		RiskScore:  10,
		Enabled:    true,
	})
	if err == nil {
		t.Error("expected error for non-bool expression")
	}
}

func TestFlagRuleSetRejectsBadScore(t *testing.T) {
	set, _ := NewFlagRuleSet()
	defer set.Close()

	err := set.ValidateRule(&domain.FlagRule{
		ID:         "too-high",
		Expression: "amount > 0.0",
		FraudType:  "Too High",
		RiskScore:  150,
		Enabled:    true,
	})
	if err == nil {
		t.Error("expected error for risk score above 100")
	}
}

func TestFlagRuleEvaluate(t *testing.T) {
	set, _ := NewFlagRuleSet()
	defer set.Close()

	err := set.LoadRule(&domain.FlagRule{
		ID:         "offshore",
		Name:       "Offshore location",
		Expression: `location == "Cayman Islands" && amount > 500.0`,
		FraudType:  "Offshore Activity",
		RiskScore:  50,
		Enabled:    true,
	})
	if err != nil {
		t.Fatalf("failed to load rule: %v", err)
	}

	txs := []domain.Transaction{
		{ID: "tx-1", Amount: 600, Location: "Cayman Islands"},
		{ID: "tx-2", Amount: 400, Location: "Cayman Islands"},
		{ID: "tx-3", Amount: 600, Location: "London"},
	}

	matches := set.Evaluate(txs)
	if len(matches) != 1 {
		t.Fatalf("expected 1 match, got %d", len(matches))
	}
	if matches[0].Transaction.ID != "tx-1" {
		t.Errorf("wrong transaction matched: %s", matches[0].Transaction.ID)
	}
	if matches[0].FraudType != "Offshore Activity" || matches[0].RiskScore != 50 {
		t.Errorf("unexpected match metadata: %+v", matches[0])
	}
}

func TestEngineWithFlagRules(t *testing.T) {
	set, _ := NewFlagRuleSet()
	defer set.Close()

	if err := set.LoadRule(&domain.FlagRule{
		ID:         "withdrawal-watch",
		Expression: `transaction_type == "withdrawal"`,
		FraudType:  "Watched Type",
		RiskScore:  40,
		Enabled:    true,
	}); err != nil {
		t.Fatalf("failed to load rule: %v", err)
	}

	w := tx("tx-1", "acc-1", 250.25)
	w.Type = "withdrawal"

	engine := NewEngine(set)
	report := engine.Detect([]domain.Transaction{w})

	if got := countByFraudType(report.Suspicious, "Watched Type"); got != 1 {
		t.Errorf("expected 1 custom entry, got %d", got)
	}
}

func TestFlagRuleReload(t *testing.T) {
	set, _ := NewFlagRuleSet()
	defer set.Close()

	set.LoadRule(&domain.FlagRule{
		ID:         "first",
		Expression: "amount > 1.0",
		FraudType:  "First",
		RiskScore:  10,
		Enabled:    true,
	})

	err := set.ReloadRules([]*domain.FlagRule{
		{ID: "second", Expression: "amount > 2.0", FraudType: "Second", RiskScore: 20, Enabled: true},
		{ID: "disabled", Expression: "amount > 3.0", FraudType: "Disabled", RiskScore: 30, Enabled: false},
	})
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}

	if set.RulesCount() != 1 {
		t.Fatalf("expected 1 rule after reload, got %d", set.RulesCount())
	}
	if set.GetLoadedRules()[0].ID != "second" {
		t.Errorf("wrong rule survived reload: %s", set.GetLoadedRules()[0].ID)
	}
}
