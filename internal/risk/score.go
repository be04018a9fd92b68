// Package risk reduces detection output into the overall batch risk
// score and the ranked suspicious transaction list.
package risk

import (
	"math"
	"sort"

	"github.com/opensource-finance/kestrel/internal/domain"
)

const suspiciousDetailLimit = 50

// Finding risk level weights added onto the suspicion ratio.
const (
	weightHigh   = 20
	weightMedium = 10
	weightLow    = 5
)

// Summary is the aggregated scoring result.
type Summary struct {
	// OverallRiskScore is the bounded batch score, 0-100.
	OverallRiskScore int

	// SuspiciousCount is the number of suspicious entries, duplicate
	// fraud-type entries included.
	SuspiciousCount int

	// Details is the output projection of the suspicious list, sorted
	// descending by risk score and truncated to 50 entries.
	Details []domain.SuspiciousDetail
}

// Aggregate computes the overall risk score from the suspicious list
// and findings. totalTransactions is the count of valid transactions in
// the batch; a zero count yields a zero ratio rather than dividing.
func Aggregate(totalTransactions int, suspicious []domain.SuspiciousTransaction, findings []domain.Finding) *Summary {
	ratio := 0.0
	if totalTransactions > 0 {
		ratio = float64(len(suspicious)) / float64(totalTransactions)
	}

	weighted := 0
	for _, f := range findings {
		weighted += findingWeight(f.RiskLevel)
	}

	score := int(math.Round(ratio*100)) + weighted
	if score > 100 {
		score = 100
	}

	return &Summary{
		OverallRiskScore: score,
		SuspiciousCount:  len(suspicious),
		Details:          rankDetails(suspicious),
	}
}

func findingWeight(riskLevel string) int {
	switch riskLevel {
	case domain.RiskHigh:
		return weightHigh
	case domain.RiskMedium:
		return weightMedium
	case domain.RiskLow:
		return weightLow
	default:
		return 0
	}
}

// rankDetails projects the suspicious entries, sorts them descending by
// risk score and truncates to the detail limit. The sort is stable so
// equal scores keep detection order.
func rankDetails(suspicious []domain.SuspiciousTransaction) []domain.SuspiciousDetail {
	details := make([]domain.SuspiciousDetail, 0, len(suspicious))
	for _, s := range suspicious {
		details = append(details, domain.SuspiciousDetail{
			ID:        s.ID,
			Date:      s.Date,
			Amount:    s.Amount,
			AccountID: s.AccountID,
			Merchant:  s.MerchantName,
			FraudType: s.FraudType,
			RiskScore: s.RiskScore,
		})
	}

	sort.SliceStable(details, func(i, j int) bool {
		return details[i].RiskScore > details[j].RiskScore
	})

	if len(details) > suspiciousDetailLimit {
		details = details[:suspiciousDetailLimit]
	}
	return details
}
