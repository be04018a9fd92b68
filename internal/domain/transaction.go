package domain

// Transaction represents one validated row from an uploaded batch.
// Immutable once parsed.
type Transaction struct {
	ID           string  `json:"transactionId"`
	Date         string  `json:"date"` // YYYY-MM-DD, kept as supplied
	Amount       float64 `json:"amount"`
	AccountID    string  `json:"accountId"`
	MerchantName string  `json:"merchantName"`
	Type         string  `json:"transactionType"`
	Location     string  `json:"location"`
	IPAddress    string  `json:"ipAddress"`
}

// Fraud type labels produced by the built-in detection rules.
const (
	FraudHighValue        = "High Value Transaction"
	FraudStructuring      = "Potential Structuring"
	FraudUnusualFrequency = "Unusual Frequency"
	FraudLocationAnomaly  = "Location Anomaly"
)

// SuspiciousTransaction is a transaction flagged by a detection rule.
// The same transaction may appear more than once, under different fraud
// types, when it trips multiple independent rules.
type SuspiciousTransaction struct {
	Transaction
	FraudType string `json:"fraudType"`
	RiskScore int    `json:"riskScore"` // 0-100
}
