// Package detect implements the fraud pattern detection engine.
//
// Detection runs as an ordered list of rule passes. The two built-in
// per-transaction rules and any custom flag rules append suspicious
// entries unconditionally, so one transaction can carry several fraud
// types. The two post-hoc rules consult the suspicious list as it
// stands and skip transactions that are already flagged; this
// sequential, order-dependent deduplication is intended behavior.
package detect

import (
	"math"
	"sort"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Built-in rule thresholds and scores.
const (
	highValueThreshold   = 5000.0
	structuringMinAmount = 1000.0
	structuringStep      = 100.0
	frequentAccountMin   = 5 // accounts with more transactions are flagged
	locationAccountsMin  = 3 // locations with more distinct accounts are flagged

	scoreHighValue        = 65
	scoreStructuring      = 55
	scoreUnusualFrequency = 70
	scoreLocationAnomaly  = 60
)

const topMerchantLimit = 5

// Report is the output of one detection run.
type Report struct {
	Suspicious   []domain.SuspiciousTransaction
	Findings     []domain.Finding
	Tables       *FrequencyTables
	TopMerchants []domain.MerchantSummary
}

// Engine applies the built-in heuristics plus any loaded flag rules.
type Engine struct {
	flagRules *FlagRuleSet
}

// NewEngine creates a detection engine. flagRules may be nil when no
// custom rules are configured.
func NewEngine(flagRules *FlagRuleSet) *Engine {
	return &Engine{flagRules: flagRules}
}

// Detect runs all rule passes against the batch.
func (e *Engine) Detect(txs []domain.Transaction) *Report {
	tables := BuildFrequencyTables(txs)

	var suspicious []domain.SuspiciousTransaction
	flagged := make(map[string]bool)

	appendEntry := func(tx domain.Transaction, fraudType string, score int) {
		suspicious = append(suspicious, domain.SuspiciousTransaction{
			Transaction: tx,
			FraudType:   fraudType,
			RiskScore:   score,
		})
		flagged[tx.ID] = true
	}

	// Pass 1: per-transaction rules, appended unconditionally. A
	// transaction satisfying both rules appears twice.
	highValueCount := 0
	structuringCount := 0
	for _, tx := range txs {
		if tx.Amount > highValueThreshold {
			appendEntry(tx, domain.FraudHighValue, scoreHighValue)
			highValueCount++
		}
		if math.Mod(tx.Amount, structuringStep) == 0 && tx.Amount >= structuringMinAmount {
			appendEntry(tx, domain.FraudStructuring, scoreStructuring)
			structuringCount++
		}
	}

	// Pass 2: custom flag rules, write unconditionally like built-ins.
	if e.flagRules != nil {
		for _, match := range e.flagRules.Evaluate(txs) {
			appendEntry(match.Transaction, match.FraudType, match.RiskScore)
		}
	}

	// Pass 3: unusual frequency, skipping already-flagged transactions.
	for _, tx := range txs {
		if tables.Accounts[tx.AccountID] > frequentAccountMin && !flagged[tx.ID] {
			appendEntry(tx, domain.FraudUnusualFrequency, scoreUnusualFrequency)
		}
	}

	// Pass 4: location anomalies, skipping already-flagged transactions.
	for _, tx := range txs {
		if tables.DistinctAccounts(tx.Location) > locationAccountsMin && !flagged[tx.ID] {
			appendEntry(tx, domain.FraudLocationAnomaly, scoreLocationAnomaly)
		}
	}

	return &Report{
		Suspicious:   suspicious,
		Findings:     buildFindings(tables, highValueCount, structuringCount),
		Tables:       tables,
		TopMerchants: topRiskMerchants(tables),
	}
}

// buildFindings derives the category findings from the aggregates.
// Findings with zero affected entities are dropped.
func buildFindings(tables *FrequencyTables, highValueCount, structuringCount int) []domain.Finding {
	frequentAccounts := 0
	for _, count := range tables.Accounts {
		if count > frequentAccountMin {
			frequentAccounts++
		}
	}

	anomalousLocations := 0
	for _, accounts := range tables.Locations {
		if len(accounts) > locationAccountsMin {
			anomalousLocations++
		}
	}

	candidates := []domain.Finding{
		{
			Type:          domain.FindingAnomaly,
			Description:   "Unusual transaction frequency detected for same account",
			RiskLevel:     domain.RiskMedium,
			AffectedCount: frequentAccounts,
		},
		{
			Type:          domain.FindingPattern,
			Description:   "Multiple high-value transactions",
			RiskLevel:     domain.RiskHigh,
			AffectedCount: highValueCount,
		},
		{
			Type:          domain.FindingAnomaly,
			Description:   "Potential structuring (round numbers)",
			RiskLevel:     domain.RiskMedium,
			AffectedCount: structuringCount,
		},
		{
			Type:          domain.FindingPattern,
			Description:   "Location anomalies",
			RiskLevel:     domain.RiskLow,
			AffectedCount: anomalousLocations,
		},
	}

	findings := make([]domain.Finding, 0, len(candidates))
	for _, f := range candidates {
		if f.AffectedCount > 0 {
			findings = append(findings, f)
		}
	}
	return findings
}

// topRiskMerchants returns merchants seen more than twice, sorted
// descending by total amount, at most 5.
func topRiskMerchants(tables *FrequencyTables) []domain.MerchantSummary {
	var merchants []domain.MerchantSummary
	for name, stats := range tables.Merchants {
		if stats.Count > 2 {
			merchants = append(merchants, domain.MerchantSummary{
				Merchant:    name,
				Count:       stats.Count,
				TotalAmount: stats.TotalAmount,
			})
		}
	}

	sort.Slice(merchants, func(i, j int) bool {
		if merchants[i].TotalAmount != merchants[j].TotalAmount {
			return merchants[i].TotalAmount > merchants[j].TotalAmount
		}
		return merchants[i].Merchant < merchants[j].Merchant
	})

	if len(merchants) > topMerchantLimit {
		merchants = merchants[:topMerchantLimit]
	}
	return merchants
}
