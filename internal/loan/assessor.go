// Package loan derives the portfolio loan eligibility assessment from
// a validated batch and its suspicious transaction list.
package loan

import (
	"math"
	"sort"
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Portfolio scoring parameters.
const (
	baseScore          = 70
	eligibilityCutoff  = 60
	highRiskPenalty    = 15
	mediumRiskPenalty  = 5
	stableAccountBonus = 5

	minLoanAmount = 1000
	maxLoanAmount = 100000
	loanFactor    = 1.5
)

// Classification thresholds.
const (
	velocityHighMin   = 15 // more transactions than this is high velocity
	velocityMediumMin = 7

	stableCVMax   = 0.3
	moderateCVMax = 0.7

	highRiskRatio   = 0.1
	mediumRiskRatio = 0.05
)

// Assess regroups all valid transactions by account and combines the
// per-account classifications with the global suspicion ratio into the
// eligibility result. A batch with no valid transactions is never
// eligible and scores zero.
func Assess(txs []domain.Transaction, suspicious []domain.SuspiciousTransaction) domain.LoanEligibilityResult {
	if len(txs) == 0 {
		return domain.LoanEligibilityResult{
			IsEligible:      false,
			Score:           0,
			ReasonCodes:     []domain.ReasonCode{},
			AccountAnalysis: []domain.AccountAnalysis{},
		}
	}

	accounts := analyzeAccounts(txs, suspicious)
	globalRatio := float64(len(suspicious)) / float64(len(txs))

	highRisk, mediumRisk, stable, unstable := 0, 0, 0, 0
	totalBalance := 0.0
	for _, a := range accounts {
		switch a.RiskLevel {
		case domain.AccountRiskHigh:
			highRisk++
		case domain.AccountRiskMedium:
			mediumRisk++
		}
		switch a.CashFlowStability {
		case domain.CashFlowStable:
			stable++
		case domain.CashFlowUnstable:
			unstable++
		}
		totalBalance += a.AverageBalance
	}
	avgBalance := totalBalance / float64(len(accounts))

	score := baseScore
	score -= int(math.Round(globalRatio * 100))
	score -= highRiskPenalty*highRisk + mediumRiskPenalty*mediumRisk
	score += stableAccountBonus * stable
	score += balanceBonus(avgBalance)

	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}

	result := domain.LoanEligibilityResult{
		IsEligible:      score >= eligibilityCutoff,
		Score:           score,
		ReasonCodes:     reasonCodes(globalRatio, avgBalance, highRisk > 0, stable > 0, unstable > 0),
		AccountAnalysis: accounts,
	}

	if result.IsEligible {
		amount := int(math.Round(totalBalance * float64(score) / 100 * loanFactor))
		if amount < minLoanAmount {
			amount = minLoanAmount
		}
		if amount > maxLoanAmount {
			amount = maxLoanAmount
		}
		result.MaxLoanAmount = &amount
	}

	return result
}

// analyzeAccounts derives the per-account classifications, in account
// ID order for deterministic output.
func analyzeAccounts(txs []domain.Transaction, suspicious []domain.SuspiciousTransaction) []domain.AccountAnalysis {
	byAccount := make(map[string][]domain.Transaction)
	for _, tx := range txs {
		byAccount[tx.AccountID] = append(byAccount[tx.AccountID], tx)
	}

	suspiciousByAccount := make(map[string]int)
	for _, s := range suspicious {
		suspiciousByAccount[s.AccountID]++
	}

	ids := make([]string, 0, len(byAccount))
	for id := range byAccount {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	analyses := make([]domain.AccountAnalysis, 0, len(ids))
	for _, id := range ids {
		accountTxs := byAccount[id]
		analyses = append(analyses, domain.AccountAnalysis{
			AccountID:           id,
			AverageBalance:      averageBalance(accountTxs),
			CashFlowStability:   cashFlowStability(accountTxs),
			TransactionVelocity: velocity(len(accountTxs)),
			RiskLevel:           riskLevel(suspiciousByAccount[id], len(accountTxs)),
		})
	}
	return analyses
}

// averageBalance is net inflow, floored at zero. Deposits, transfers
// and income count as inflow; everything else is outflow.
func averageBalance(txs []domain.Transaction) float64 {
	inflow, outflow := 0.0, 0.0
	for _, tx := range txs {
		if isInflow(tx.Type) {
			inflow += tx.Amount
		} else {
			outflow += tx.Amount
		}
	}
	return math.Max(inflow-outflow, 0)
}

func isInflow(txType string) bool {
	switch strings.ToLower(strings.TrimSpace(txType)) {
	case "deposit", "transfer", "income":
		return true
	}
	return false
}

func velocity(count int) string {
	switch {
	case count > velocityHighMin:
		return domain.VelocityHigh
	case count > velocityMediumMin:
		return domain.VelocityMedium
	default:
		return domain.VelocityLow
	}
}

// cashFlowStability classifies an account by the coefficient of
// variation of its transaction amounts (population stddev over mean).
func cashFlowStability(txs []domain.Transaction) string {
	mean := 0.0
	for _, tx := range txs {
		mean += tx.Amount
	}
	mean /= float64(len(txs))

	cv := 0.0
	if mean != 0 {
		variance := 0.0
		for _, tx := range txs {
			d := tx.Amount - mean
			variance += d * d
		}
		variance /= float64(len(txs))
		cv = math.Sqrt(variance) / mean
	}

	switch {
	case cv < stableCVMax:
		return domain.CashFlowStable
	case cv < moderateCVMax:
		return domain.CashFlowModerate
	default:
		return domain.CashFlowUnstable
	}
}

// riskLevel classifies an account by its own suspicion ratio. The
// suspicious count includes duplicate fraud-type entries, so the ratio
// can exceed one.
func riskLevel(suspiciousCount, txCount int) string {
	ratio := float64(suspiciousCount) / float64(txCount)
	switch {
	case ratio > highRiskRatio:
		return domain.AccountRiskHigh
	case ratio > mediumRiskRatio:
		return domain.AccountRiskMedium
	default:
		return domain.AccountRiskLow
	}
}

func balanceBonus(avgBalance float64) int {
	switch {
	case avgBalance > 10000:
		return 15
	case avgBalance > 5000:
		return 10
	case avgBalance > 1000:
		return 5
	default:
		return 0
	}
}

// reasonCodes evaluates each eligibility factor independently; several
// may apply at once.
func reasonCodes(globalRatio, avgBalance float64, anyHighRisk, anyStable, anyUnstable bool) []domain.ReasonCode {
	codes := []domain.ReasonCode{}

	if anyStable {
		codes = append(codes, domain.ReasonCode{
			Code:        domain.ReasonStableCashflow,
			Description: "At least one account shows stable cash flow",
			Impact:      "positive",
		})
	}
	if avgBalance > 5000 {
		codes = append(codes, domain.ReasonCode{
			Code:        domain.ReasonSufficientBalance,
			Description: "Average account balance exceeds 5000",
			Impact:      "positive",
		})
	}
	if globalRatio < 0.05 {
		codes = append(codes, domain.ReasonCode{
			Code:        domain.ReasonLowRisk,
			Description: "Suspicious activity is below 5% of transactions",
			Impact:      "positive",
		})
	}
	if anyHighRisk {
		codes = append(codes, domain.ReasonCode{
			Code:        domain.ReasonHighRiskActivity,
			Description: "At least one account carries high-risk activity",
			Impact:      "negative",
		})
	}
	if globalRatio > 0.1 {
		codes = append(codes, domain.ReasonCode{
			Code:        domain.ReasonSuspiciousActivity,
			Description: "Suspicious activity exceeds 10% of transactions",
			Impact:      "negative",
		})
	}
	if anyUnstable {
		codes = append(codes, domain.ReasonCode{
			Code:        domain.ReasonUnstableCashflow,
			Description: "At least one account shows unstable cash flow",
			Impact:      "negative",
		})
	}

	return codes
}
