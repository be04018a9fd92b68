// Package analyzer chains ingestion, detection, risk aggregation and
// loan eligibility into the single batch analysis pipeline.
package analyzer

import (
	"github.com/opensource-finance/kestrel/internal/detect"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/ingest"
	"github.com/opensource-finance/kestrel/internal/loan"
	"github.com/opensource-finance/kestrel/internal/risk"
)

// Analyzer is the pure, synchronous batch analysis pipeline. It holds
// no mutable state of its own; every call is independent.
type Analyzer struct {
	engine *detect.Engine
}

// New creates an analyzer around a detection engine.
func New(engine *detect.Engine) *Analyzer {
	return &Analyzer{engine: engine}
}

// Analyze parses the raw CSV batch and produces the complete analysis
// result. A structurally invalid header returns *ingest.ValidationError;
// a batch with zero valid rows returns a well-formed zeroed result.
func (a *Analyzer) Analyze(raw string) (*domain.AnalysisResult, error) {
	txs, err := ingest.ParseBatch(raw)
	if err != nil {
		return nil, err
	}

	if len(txs) == 0 {
		return emptyResult(), nil
	}

	report := a.engine.Detect(txs)
	summary := risk.Aggregate(len(txs), report.Suspicious, report.Findings)
	eligibility := loan.Assess(txs, report.Suspicious)

	return &domain.AnalysisResult{
		TotalTransactions:      len(txs),
		SuspiciousTransactions: summary.SuspiciousCount,
		OverallRiskScore:       summary.OverallRiskScore,
		Findings:               report.Findings,
		TransactionDetails: domain.TransactionDetails{
			SuspiciousTransactions: summary.Details,
			TopRiskMerchants:       report.TopMerchants,
		},
		LoanEligibility: eligibility,
	}, nil
}

// emptyResult is the degenerate output for a batch with no valid rows:
// zeroed fields, never NaN, never an error.
func emptyResult() *domain.AnalysisResult {
	return &domain.AnalysisResult{
		TotalTransactions:      0,
		SuspiciousTransactions: 0,
		OverallRiskScore:       0,
		Findings:               []domain.Finding{},
		TransactionDetails: domain.TransactionDetails{
			SuspiciousTransactions: []domain.SuspiciousDetail{},
			TopRiskMerchants:       []domain.MerchantSummary{},
		},
		LoanEligibility: domain.LoanEligibilityResult{
			IsEligible:      false,
			Score:           0,
			ReasonCodes:     []domain.ReasonCode{},
			AccountAnalysis: []domain.AccountAnalysis{},
		},
	}
}
