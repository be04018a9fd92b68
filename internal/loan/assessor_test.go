package loan

import (
	"fmt"
	"testing"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func tx(id, account, txType string, amount float64) domain.Transaction {
	return domain.Transaction{
		ID:        id,
		Date:      "2025-01-15",
		Amount:    amount,
		AccountID: account,
		Type:      txType,
	}
}

func findAccount(t *testing.T, result domain.LoanEligibilityResult, accountID string) domain.AccountAnalysis {
	t.Helper()
	for _, a := range result.AccountAnalysis {
		if a.AccountID == accountID {
			return a
		}
	}
	t.Fatalf("account %s not found in analysis", accountID)
	return domain.AccountAnalysis{}
}

func hasCode(result domain.LoanEligibilityResult, code string) bool {
	for _, rc := range result.ReasonCodes {
		if rc.Code == code {
			return true
		}
	}
	return false
}

func TestAssessEmptyBatch(t *testing.T) {
	result := Assess(nil, nil)

	if result.IsEligible {
		t.Error("empty batch must not be eligible")
	}
	if result.Score != 0 {
		t.Errorf("score = %d, want 0", result.Score)
	}
	if result.MaxLoanAmount != nil {
		t.Error("max loan amount must be unset when not eligible")
	}
	if len(result.AccountAnalysis) != 0 {
		t.Errorf("expected no account analysis, got %d", len(result.AccountAnalysis))
	}
}

func TestAverageBalanceAndVelocity(t *testing.T) {
	// One income of 10000 and three purchases of 2000: net 4000.
	txs := []domain.Transaction{
		tx("tx-1", "acc-1", "income", 10000),
		tx("tx-2", "acc-1", "purchase", 2000),
		tx("tx-3", "acc-1", "purchase", 2000),
		tx("tx-4", "acc-1", "purchase", 2000),
	}

	result := Assess(txs, nil)
	a := findAccount(t, result, "acc-1")

	if a.AverageBalance != 4000 {
		t.Errorf("average balance = %v, want 4000", a.AverageBalance)
	}
	if a.TransactionVelocity != domain.VelocityLow {
		t.Errorf("velocity = %s, want low (count 4)", a.TransactionVelocity)
	}
}

func TestAverageBalanceFloorsAtZero(t *testing.T) {
	txs := []domain.Transaction{
		tx("tx-1", "acc-1", "income", 100),
		tx("tx-2", "acc-1", "purchase", 500),
	}

	result := Assess(txs, nil)
	if b := findAccount(t, result, "acc-1").AverageBalance; b != 0 {
		t.Errorf("average balance = %v, want 0", b)
	}
}

func TestVelocityThresholds(t *testing.T) {
	cases := []struct {
		count int
		want  string
	}{
		{7, domain.VelocityLow},
		{8, domain.VelocityMedium},
		{15, domain.VelocityMedium},
		{16, domain.VelocityHigh},
	}

	for _, tc := range cases {
		var txs []domain.Transaction
		for i := 0; i < tc.count; i++ {
			txs = append(txs, tx(fmt.Sprintf("tx-%d", i), "acc-1", "purchase", 100))
		}
		result := Assess(txs, nil)
		if got := findAccount(t, result, "acc-1").TransactionVelocity; got != tc.want {
			t.Errorf("count %d: velocity = %s, want %s", tc.count, got, tc.want)
		}
	}
}

func TestCashFlowStability(t *testing.T) {
	// Identical amounts: zero variance, stable.
	stable := []domain.Transaction{
		tx("tx-1", "acc-1", "purchase", 100),
		tx("tx-2", "acc-1", "purchase", 100),
		tx("tx-3", "acc-1", "purchase", 100),
	}
	result := Assess(stable, nil)
	if got := findAccount(t, result, "acc-1").CashFlowStability; got != domain.CashFlowStable {
		t.Errorf("stability = %s, want stable", got)
	}

	// Wildly different amounts: coefficient of variation well above 0.7.
	unstable := []domain.Transaction{
		tx("tx-1", "acc-2", "purchase", 10),
		tx("tx-2", "acc-2", "purchase", 10),
		tx("tx-3", "acc-2", "purchase", 4000),
	}
	result = Assess(unstable, nil)
	if got := findAccount(t, result, "acc-2").CashFlowStability; got != domain.CashFlowUnstable {
		t.Errorf("stability = %s, want unstable", got)
	}
}

func TestAccountRiskLevel(t *testing.T) {
	var txs []domain.Transaction
	for i := 0; i < 10; i++ {
		txs = append(txs, tx(fmt.Sprintf("tx-%d", i), "acc-1", "purchase", 100))
	}

	// 2 of 10 suspicious: ratio 0.2 -> high.
	suspicious := []domain.SuspiciousTransaction{
		{Transaction: txs[0], FraudType: domain.FraudHighValue, RiskScore: 65},
		{Transaction: txs[1], FraudType: domain.FraudHighValue, RiskScore: 65},
	}
	result := Assess(txs, suspicious)
	if got := findAccount(t, result, "acc-1").RiskLevel; got != domain.AccountRiskHigh {
		t.Errorf("risk level = %s, want high", got)
	}

	// 1 of 10: ratio 0.1, not above the high threshold -> medium.
	result = Assess(txs, suspicious[:1])
	if got := findAccount(t, result, "acc-1").RiskLevel; got != domain.AccountRiskMedium {
		t.Errorf("risk level = %s, want medium", got)
	}

	// None suspicious -> low.
	result = Assess(txs, nil)
	if got := findAccount(t, result, "acc-1").RiskLevel; got != domain.AccountRiskLow {
		t.Errorf("risk level = %s, want low", got)
	}
}

func TestEligibleCleanPortfolio(t *testing.T) {
	// Stable account with a large positive balance and no suspicion:
	// 70 + 5 (stable) + 15 (balance > 10000) = 90.
	txs := []domain.Transaction{
		tx("tx-1", "acc-1", "deposit", 12000),
		tx("tx-2", "acc-1", "deposit", 12000),
	}

	result := Assess(txs, nil)

	if result.Score != 90 {
		t.Errorf("score = %d, want 90", result.Score)
	}
	if !result.IsEligible {
		t.Fatal("portfolio should be eligible")
	}
	if result.MaxLoanAmount == nil {
		t.Fatal("eligible portfolio must carry a max loan amount")
	}
	// 24000 * 0.90 * 1.5 = 32400.
	if *result.MaxLoanAmount != 32400 {
		t.Errorf("max loan amount = %d, want 32400", *result.MaxLoanAmount)
	}

	if !hasCode(result, domain.ReasonStableCashflow) {
		t.Error("missing STABLE_CASHFLOW reason code")
	}
	if !hasCode(result, domain.ReasonSufficientBalance) {
		t.Error("missing SUFFICIENT_BALANCE reason code")
	}
	if !hasCode(result, domain.ReasonLowRisk) {
		t.Error("missing LOW_RISK reason code")
	}
}

func TestMaxLoanAmountClamped(t *testing.T) {
	txs := []domain.Transaction{
		tx("tx-1", "acc-1", "deposit", 500000),
		tx("tx-2", "acc-1", "deposit", 500000),
	}

	result := Assess(txs, nil)
	if !result.IsEligible {
		t.Fatal("portfolio should be eligible")
	}
	if *result.MaxLoanAmount != 100000 {
		t.Errorf("max loan amount = %d, want clamp at 100000", *result.MaxLoanAmount)
	}
}

func TestIneligibleSuspiciousPortfolio(t *testing.T) {
	// Every transaction suspicious: global ratio 1.0 knocks the score
	// to zero; account risk penalty applies on top.
	var txs []domain.Transaction
	var suspicious []domain.SuspiciousTransaction
	for i := 0; i < 5; i++ {
		transaction := tx(fmt.Sprintf("tx-%d", i), "acc-1", "purchase", 6000.33)
		txs = append(txs, transaction)
		suspicious = append(suspicious, domain.SuspiciousTransaction{
			Transaction: transaction,
			FraudType:   domain.FraudHighValue,
			RiskScore:   65,
		})
	}

	result := Assess(txs, suspicious)

	if result.IsEligible {
		t.Error("heavily suspicious portfolio must not be eligible")
	}
	if result.Score != 0 {
		t.Errorf("score = %d, want 0 after clamping", result.Score)
	}
	if result.MaxLoanAmount != nil {
		t.Error("ineligible result must not carry a max loan amount")
	}
	if !hasCode(result, domain.ReasonSuspiciousActivity) {
		t.Error("missing SUSPICIOUS_ACTIVITY reason code")
	}
	if !hasCode(result, domain.ReasonHighRiskActivity) {
		t.Error("missing HIGH_RISK_ACTIVITY reason code")
	}
}

func TestUnstableCashflowReasonCode(t *testing.T) {
	txs := []domain.Transaction{
		tx("tx-1", "acc-1", "purchase", 10),
		tx("tx-2", "acc-1", "purchase", 10),
		tx("tx-3", "acc-1", "purchase", 4000),
	}

	result := Assess(txs, nil)
	if !hasCode(result, domain.ReasonUnstableCashflow) {
		t.Error("missing UNSTABLE_CASHFLOW reason code")
	}
}

func TestScoreBounds(t *testing.T) {
	// Many stable accounts push the raw score above 100; it must clamp.
	var txs []domain.Transaction
	for i := 0; i < 10; i++ {
		acc := fmt.Sprintf("acc-%d", i)
		txs = append(txs,
			tx(fmt.Sprintf("tx-%d-a", i), acc, "deposit", 20000),
			tx(fmt.Sprintf("tx-%d-b", i), acc, "deposit", 20000),
		)
	}

	result := Assess(txs, nil)
	if result.Score < 0 || result.Score > 100 {
		t.Errorf("score out of bounds: %d", result.Score)
	}
	if result.Score != 100 {
		t.Errorf("score = %d, want 100", result.Score)
	}
}

func TestAccountAnalysisSorted(t *testing.T) {
	txs := []domain.Transaction{
		tx("tx-1", "acc-b", "purchase", 100),
		tx("tx-2", "acc-a", "purchase", 100),
		tx("tx-3", "acc-c", "purchase", 100),
	}

	result := Assess(txs, nil)
	if len(result.AccountAnalysis) != 3 {
		t.Fatalf("expected 3 accounts, got %d", len(result.AccountAnalysis))
	}
	for i, want := range []string{"acc-a", "acc-b", "acc-c"} {
		if result.AccountAnalysis[i].AccountID != want {
			t.Errorf("account order [%d] = %s, want %s", i, result.AccountAnalysis[i].AccountID, want)
		}
	}
}
