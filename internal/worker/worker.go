// Package worker provides async batch processing for the Pro tier.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/kestrel/internal/analyzer"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/ingest"
)

// Worker processes analysis requests asynchronously from the EventBus.
type Worker struct {
	bus      domain.EventBus
	repo     domain.Repository
	cache    domain.Cache
	analyzer *analyzer.Analyzer

	alertThreshold int
	resultTTL      time.Duration

	subscriptions []domain.Subscription
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// TenantIDs is the list of tenants to process (empty = all via wildcard if supported)
	TenantIDs []string

	// AlertThreshold is the overall risk score at or above which a
	// completed analysis is also published to the alert topic.
	AlertThreshold int

	// ResultTTL is how long completed results stay cached.
	ResultTTL time.Duration
}

// NewWorker creates a new async worker.
func NewWorker(bus domain.EventBus, repo domain.Repository, cache domain.Cache, a *analyzer.Analyzer, cfg Config) *Worker {
	if cfg.AlertThreshold <= 0 {
		cfg.AlertThreshold = 70
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = time.Hour
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:            bus,
		repo:           repo,
		cache:          cache,
		analyzer:       a,
		alertThreshold: cfg.AlertThreshold,
		resultTTL:      cfg.ResultTTL,
		ctx:            ctx,
		cancel:         cancel,
	}
}

// Start begins processing analysis requests for the given tenants.
func (w *Worker) Start(cfg Config) error {
	if len(cfg.TenantIDs) == 0 {
		return w.startGlobalWorker()
	}

	for _, tenantID := range cfg.TenantIDs {
		if err := w.startTenantWorker(tenantID); err != nil {
			slog.Error("failed to start worker for tenant",
				"tenant_id", tenantID,
				"error", err,
			)
			continue
		}
	}

	slog.Info("workers started",
		"tenant_count", len(cfg.TenantIDs),
	)

	return nil
}

// startGlobalWorker starts a worker that processes all tenants (for testing/dev).
func (w *Worker) startGlobalWorker() error {
	// Subscribe using a special "global" tenant ID
	// In production, you'd want to subscribe with wildcards or JetStream
	sub, err := w.bus.Subscribe(w.ctx, "_global", domain.TopicAnalysisRequest, w.handleMessage)
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("global worker started")
	return nil
}

// startTenantWorker starts workers for a specific tenant.
func (w *Worker) startTenantWorker(tenantID string) error {
	sub, err := w.bus.Subscribe(w.ctx, tenantID, domain.TopicAnalysisRequest, func(ctx context.Context, msg *domain.Message) error {
		return w.processBatch(ctx, tenantID, msg)
	})
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("tenant worker started",
		"tenant_id", tenantID,
		"topic", domain.TopicAnalysisRequest,
	)

	return nil
}

// handleMessage handles messages from global subscription.
func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	return w.processBatch(ctx, msg.TenantID, msg)
}

// AnalysisRequestMessage is the message payload for batch analysis.
type AnalysisRequestMessage struct {
	AnalysisID  string `json:"analysisId,omitempty"`
	TenantID    string `json:"tenantId"`
	TraceID     string `json:"traceId"`
	ContentHash string `json:"contentHash,omitempty"`
	CSV         string `json:"csv"`
}

// AnalysisCompletedMessage is published when a batch analysis finishes.
type AnalysisCompletedMessage struct {
	AnalysisID       string `json:"analysisId"`
	TenantID         string `json:"tenantId"`
	TraceID          string `json:"traceId"`
	OverallRiskScore int    `json:"overallRiskScore"`
	SuspiciousCount  int    `json:"suspiciousCount"`
	LoanEligible     bool   `json:"loanEligible"`
}

// processBatch runs a CSV batch through the analysis pipeline.
// Tracked on the WaitGroup so Stop drains in-flight batches before
// returning; save, cache and publish all finish or fail first.
func (w *Worker) processBatch(ctx context.Context, tenantID string, msg *domain.Message) error {
	w.wg.Add(1)
	defer w.wg.Done()

	start := time.Now()

	// Parse message
	var req AnalysisRequestMessage
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		slog.Error("failed to parse analysis request",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	// Use message tenant if provided
	if req.TenantID != "" {
		tenantID = req.TenantID
	}

	traceID := req.TraceID
	if traceID == "" {
		traceID = msg.ID
	}

	analysisID := req.AnalysisID
	if analysisID == "" {
		analysisID = uuid.New().String()
	}

	slog.Debug("processing analysis request",
		"analysis_id", analysisID,
		"tenant_id", tenantID,
		"trace_id", traceID,
	)

	// 1. Run the batch through the analyzer
	result, err := w.analyzer.Analyze(req.CSV)
	if err != nil {
		var vErr *ingest.ValidationError
		if errors.As(err, &vErr) {
			slog.Warn("analysis request rejected",
				"analysis_id", analysisID,
				"tenant_id", tenantID,
				"missing_columns", vErr.MissingColumns,
			)
			return err
		}
		slog.Error("analysis failed",
			"analysis_id", analysisID,
			"error", err,
		)
		return err
	}

	// 2. Save analysis
	analysis := &domain.Analysis{
		ID:          analysisID,
		TenantID:    tenantID,
		ContentHash: req.ContentHash,
		Result:      result,
		CreatedAt:   time.Now().UTC(),
	}
	if w.repo != nil {
		if err := w.repo.SaveAnalysis(ctx, tenantID, analysis); err != nil {
			slog.Error("failed to save analysis",
				"analysis_id", analysisID,
				"error", err,
			)
		}
	}

	// 3. Cache result by content hash for duplicate batch submissions
	if w.cache != nil && req.ContentHash != "" {
		if err := w.cache.SetAnalysis(ctx, tenantID, req.ContentHash, result, w.resultTTL); err != nil {
			slog.Error("failed to cache analysis result",
				"analysis_id", analysisID,
				"error", err,
			)
		}
	}

	// 4. Publish completion
	completed := AnalysisCompletedMessage{
		AnalysisID:       analysisID,
		TenantID:         tenantID,
		TraceID:          traceID,
		OverallRiskScore: result.OverallRiskScore,
		SuspiciousCount:  result.SuspiciousTransactions,
		LoanEligible:     result.LoanEligibility.IsEligible,
	}
	payload, _ := json.Marshal(completed)
	if err := w.bus.Publish(ctx, tenantID, domain.TopicAnalysisCompleted, payload); err != nil {
		slog.Error("failed to publish completion",
			"analysis_id", analysisID,
			"error", err,
		)
	}

	// 5. High-risk batches also go to the alert topic
	if result.OverallRiskScore >= w.alertThreshold {
		if err := w.bus.Publish(ctx, tenantID, domain.TopicAnalysisAlert, payload); err != nil {
			slog.Error("failed to publish alert",
				"analysis_id", analysisID,
				"error", err,
			)
		}
	}

	slog.Info("batch analyzed",
		"analysis_id", analysisID,
		"tenant_id", tenantID,
		"total_transactions", result.TotalTransactions,
		"suspicious_count", result.SuspiciousTransactions,
		"overall_risk_score", result.OverallRiskScore,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return nil
}

// Stop gracefully stops all workers.
func (w *Worker) Stop() error {
	w.cancel()

	// Unsubscribe all
	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	w.wg.Wait()

	slog.Info("workers stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
