package domain

// Cash flow stability classifications.
const (
	CashFlowStable   = "stable"
	CashFlowModerate = "moderate"
	CashFlowUnstable = "unstable"
)

// Transaction velocity classifications.
const (
	VelocityHigh   = "high"
	VelocityMedium = "medium"
	VelocityLow    = "low"
)

// Account risk classifications.
const (
	AccountRiskLow    = "low"
	AccountRiskMedium = "medium"
	AccountRiskHigh   = "high"
)

// Reason code identifiers for the eligibility decision.
const (
	ReasonStableCashflow     = "STABLE_CASHFLOW"
	ReasonSufficientBalance  = "SUFFICIENT_BALANCE"
	ReasonLowRisk            = "LOW_RISK"
	ReasonHighRiskActivity   = "HIGH_RISK_ACTIVITY"
	ReasonSuspiciousActivity = "SUSPICIOUS_ACTIVITY"
	ReasonUnstableCashflow   = "UNSTABLE_CASHFLOW"
)

// AccountAnalysis is the derived per-account classification.
type AccountAnalysis struct {
	AccountID           string  `json:"accountId"`
	AverageBalance      float64 `json:"averageBalance"` // never negative
	CashFlowStability   string  `json:"cashFlowStability"`
	TransactionVelocity string  `json:"transactionVelocity"`
	RiskLevel           string  `json:"riskLevel"`
}

// ReasonCode is one explainable factor behind the eligibility decision.
type ReasonCode struct {
	Code        string `json:"code"`
	Description string `json:"description"`
	Impact      string `json:"impact"` // "positive" or "negative"
}

// LoanEligibilityResult is the portfolio-level eligibility assessment.
type LoanEligibilityResult struct {
	IsEligible bool `json:"isEligible"`
	Score      int  `json:"score"` // 0-100

	// MaxLoanAmount is set only for eligible portfolios, clamped to
	// [1000, 100000].
	MaxLoanAmount *int `json:"maxLoanAmount,omitempty"`

	ReasonCodes     []ReasonCode      `json:"reasonCodes"`
	AccountAnalysis []AccountAnalysis `json:"accountAnalysis"`
}
