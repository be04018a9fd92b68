package domain

import (
	"time"
)

// Finding categories.
const (
	FindingAnomaly = "Anomaly"
	FindingPattern = "Pattern"
	FindingFraud   = "Fraud"
)

// Finding risk levels and their contribution to the overall risk score.
const (
	RiskHigh   = "High"
	RiskMedium = "Medium"
	RiskLow    = "Low"
)

// Finding is an aggregate observation over the whole batch.
// Only findings with AffectedCount > 0 are reported.
type Finding struct {
	Type          string `json:"type"` // "Anomaly", "Pattern" or "Fraud"
	Description   string `json:"description"`
	RiskLevel     string `json:"riskLevel"` // "Low", "Medium" or "High"
	AffectedCount int    `json:"affectedCount"`
}

// SuspiciousDetail is the output projection of a suspicious transaction.
type SuspiciousDetail struct {
	ID        string  `json:"id"`
	Date      string  `json:"date"`
	Amount    float64 `json:"amount"`
	AccountID string  `json:"accountId"`
	Merchant  string  `json:"merchant"`
	FraudType string  `json:"fraudType"`
	RiskScore int     `json:"riskScore"`
}

// MerchantSummary aggregates activity for a single merchant.
type MerchantSummary struct {
	Merchant    string  `json:"merchant"`
	Count       int     `json:"count"`
	TotalAmount float64 `json:"totalAmount"`
}

// TransactionDetails bundles the ranked output lists.
type TransactionDetails struct {
	// Sorted descending by risk score, at most 50 entries.
	SuspiciousTransactions []SuspiciousDetail `json:"suspiciousTransactions"`

	// Merchants seen more than twice, sorted descending by total
	// amount, at most 5 entries.
	TopRiskMerchants []MerchantSummary `json:"topRiskMerchants"`
}

// AnalysisResult is the complete output of one batch analysis.
type AnalysisResult struct {
	TotalTransactions      int                   `json:"totalTransactions"`
	SuspiciousTransactions int                   `json:"suspiciousTransactions"`
	OverallRiskScore       int                   `json:"overallRiskScore"` // 0-100
	Findings               []Finding             `json:"findings"`
	TransactionDetails     TransactionDetails    `json:"transactionDetails"`
	LoanEligibility        LoanEligibilityResult `json:"loanEligibility"`
}

// Analysis is a stored analysis run: the result plus bookkeeping.
type Analysis struct {
	ID          string          `json:"id"`
	TenantID    string          `json:"tenantId"`
	ContentHash string          `json:"contentHash"`
	Result      *AnalysisResult `json:"result"`
	CreatedAt   time.Time       `json:"createdAt"`
}
