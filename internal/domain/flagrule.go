package domain

// FlagRule is an operator-defined detection rule layered on top of the
// built-in heuristics. The CEL expression is evaluated once per
// transaction; a true result appends a suspicious entry with the
// configured fraud type and risk score.
type FlagRule struct {
	ID          string `json:"id"`
	TenantID    string `json:"tenantId"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Version     string `json:"version"`

	// CEL expression over transaction fields, must return bool.
	Expression string `json:"expression"`

	// FraudType labels the suspicious entries this rule produces.
	FraudType string `json:"fraudType"`

	// RiskScore assigned to matching transactions, 0-100.
	RiskScore int `json:"riskScore"`

	// Whether the rule is active.
	Enabled bool `json:"enabled"`
}
