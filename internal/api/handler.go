package api

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/opensource-finance/kestrel/internal/analyzer"
	"github.com/opensource-finance/kestrel/internal/detect"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/ingest"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	repo      domain.Repository
	cache     domain.Cache
	bus       domain.EventBus
	analyzer  *analyzer.Analyzer
	flagRules *detect.FlagRuleSet
	config    domain.AnalyzerConfig
	version   string
}

// NewHandler creates a new API handler.
func NewHandler(repo domain.Repository, cache domain.Cache, bus domain.EventBus, a *analyzer.Analyzer, flagRules *detect.FlagRuleSet, cfg domain.AnalyzerConfig, version string) *Handler {
	if cfg.AlertThreshold <= 0 {
		cfg.AlertThreshold = 70
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = 3600
	}
	return &Handler{
		repo:      repo,
		cache:     cache,
		bus:       bus,
		analyzer:  a,
		flagRules: flagRules,
		config:    cfg,
		version:   version,
	}
}

// AnalyzeRequest is the JSON request body for POST /analyze.
// Clients may alternatively submit the CSV directly as text/csv.
type AnalyzeRequest struct {
	CSV string `json:"csv"`
}

// AnalyzeResponse is the response for POST /analyze.
type AnalyzeResponse struct {
	AnalysisID string                 `json:"analysisId"`
	Cached     bool                   `json:"cached"`
	Result     *domain.AnalysisResult `json:"result"`
	Metadata   struct {
		TraceID string `json:"traceId"`
		TotalMs int64  `json:"totalMs"`
		Version string `json:"version"`
	} `json:"metadata"`
}

// analysisEvent is the payload published to the completed and alert topics.
type analysisEvent struct {
	AnalysisID       string `json:"analysisId"`
	TenantID         string `json:"tenantId"`
	TraceID          string `json:"traceId"`
	OverallRiskScore int    `json:"overallRiskScore"`
	SuspiciousCount  int    `json:"suspiciousCount"`
	LoanEligible     bool   `json:"loanEligible"`
}

// Analyze handles POST /analyze requests.
func (h *Handler) Analyze(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	traceID := GetTraceID(ctx)

	// Read batch content: JSON envelope or raw CSV body
	raw, err := readBatch(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
		return
	}
	if strings.TrimSpace(raw) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "csv content is required",
		})
		return
	}

	// Content hash identifies identical batch submissions
	sum := sha256.Sum256([]byte(raw))
	contentHash := hex.EncodeToString(sum[:])

	// Track per-tenant submission rate
	if h.cache != nil {
		if _, err := h.cache.IncrementCounter(ctx, tenantID, "analyses", time.Hour); err != nil {
			slog.Debug("failed to increment analysis counter", "error", err)
		}
	}

	// Serve identical batches from cache
	if h.cache != nil {
		cached, err := h.cache.GetAnalysis(ctx, tenantID, contentHash)
		if err != nil {
			slog.Debug("cache lookup failed", "error", err)
		}
		if cached != nil {
			resp := AnalyzeResponse{
				AnalysisID: contentHash[:16],
				Cached:     true,
				Result:     cached,
			}
			resp.Metadata.TraceID = traceID
			resp.Metadata.TotalMs = time.Since(start).Milliseconds()
			resp.Metadata.Version = h.version
			writeJSON(w, http.StatusOK, resp)
			return
		}
	}

	// Run the batch through the analysis pipeline
	result, err := h.analyzer.Analyze(raw)
	if err != nil {
		var vErr *ingest.ValidationError
		if errors.As(err, &vErr) {
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"error":          vErr.Error(),
				"missingColumns": vErr.MissingColumns,
			})
			return
		}
		slog.Error("analysis failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "analysis failed",
		})
		return
	}

	analysisID := uuid.New().String()
	analysis := &domain.Analysis{
		ID:          analysisID,
		TenantID:    tenantID,
		ContentHash: contentHash,
		Result:      result,
		CreatedAt:   time.Now().UTC(),
	}

	// Save analysis if repository is available
	if h.repo != nil {
		if err := h.repo.SaveAnalysis(ctx, tenantID, analysis); err != nil {
			slog.Error("failed to save analysis", "analysis_id", analysisID, "error", err)
		}
	}

	// Cache result for duplicate submissions
	if h.cache != nil {
		ttl := time.Duration(h.config.ResultTTL) * time.Second
		if err := h.cache.SetAnalysis(ctx, tenantID, contentHash, result, ttl); err != nil {
			slog.Error("failed to cache analysis", "analysis_id", analysisID, "error", err)
		}
	}

	// Publish completion and, for high-risk batches, an alert
	if h.bus != nil {
		event := analysisEvent{
			AnalysisID:       analysisID,
			TenantID:         tenantID,
			TraceID:          traceID,
			OverallRiskScore: result.OverallRiskScore,
			SuspiciousCount:  result.SuspiciousTransactions,
			LoanEligible:     result.LoanEligibility.IsEligible,
		}
		payload, _ := json.Marshal(event)
		if err := h.bus.Publish(ctx, tenantID, domain.TopicAnalysisCompleted, payload); err != nil {
			slog.Error("failed to publish completion", "analysis_id", analysisID, "error", err)
		}
		if result.OverallRiskScore >= h.config.AlertThreshold {
			if err := h.bus.Publish(ctx, tenantID, domain.TopicAnalysisAlert, payload); err != nil {
				slog.Error("failed to publish alert", "analysis_id", analysisID, "error", err)
			}
		}
	}

	resp := AnalyzeResponse{
		AnalysisID: analysisID,
		Result:     result,
	}
	resp.Metadata.TraceID = traceID
	resp.Metadata.TotalMs = time.Since(start).Milliseconds()
	resp.Metadata.Version = h.version

	writeJSON(w, http.StatusOK, resp)
}

// readBatch extracts the CSV content from the request body.
func readBatch(r *http.Request) (string, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 32<<20)) // 32MB cap
	if err != nil {
		return "", errors.New("failed to read request body")
	}

	contentType := r.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "application/json") {
		var req AnalyzeRequest
		if err := json.Unmarshal(body, &req); err != nil {
			return "", errors.New("invalid JSON request body")
		}
		return req.CSV, nil
	}

	// Raw CSV (text/csv, text/plain or unspecified)
	return string(body), nil
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	// Check repository health
	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	// Check cache health
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// GetAnalysis retrieves a stored analysis by ID.
func (h *Handler) GetAnalysis(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	analysisID := chi.URLParam(r, "id")

	if analysisID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "analysis id is required",
		})
		return
	}

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	analysis, err := h.repo.GetAnalysis(ctx, tenantID, analysisID)
	if err != nil {
		slog.Error("failed to get analysis", "id", analysisID, "error", err)
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "analysis not found",
		})
		return
	}

	writeJSON(w, http.StatusOK, analysis)
}

// ListAnalyses returns the most recent analyses for the tenant.
func (h *Handler) ListAnalyses(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	analyses, err := h.repo.ListAnalyses(ctx, tenantID, limit)
	if err != nil {
		slog.Error("failed to list analyses", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list analyses",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"analyses": analyses,
		"count":    len(analyses),
	})
}

// ListFlagRules returns all loaded flag rules.
// Rules are loaded from the database at startup and can be reloaded via POST /flagrules/reload.
func (h *Handler) ListFlagRules(w http.ResponseWriter, r *http.Request) {
	loadedRules := h.flagRules.GetLoadedRules()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"rules":  loadedRules,
		"count":  len(loadedRules),
		"source": "database",
	})
}

// GetFlagRule retrieves a flag rule by ID from the loaded rule set.
func (h *Handler) GetFlagRule(w http.ResponseWriter, r *http.Request) {
	ruleID := chi.URLParam(r, "id")

	if ruleID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "rule id is required",
		})
		return
	}

	for _, rule := range h.flagRules.GetLoadedRules() {
		if rule.ID == ruleID {
			writeJSON(w, http.StatusOK, rule)
			return
		}
	}

	writeJSON(w, http.StatusNotFound, map[string]string{
		"error": "rule not found",
	})
}

// CreateFlagRuleRequest is the request body for creating a flag rule.
type CreateFlagRuleRequest struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Expression  string `json:"expression"`
	FraudType   string `json:"fraudType"`
	RiskScore   int    `json:"riskScore"`
	Enabled     bool   `json:"enabled"`
}

// GlobalTenantID is used for flag rules that apply to all tenants.
const GlobalTenantID = "*"

// CreateFlagRule creates a new flag rule and saves it to the database.
// Rules are saved globally (tenant_id = "*") so they apply to all tenants.
// After saving, call POST /flagrules/reload to hot-reload into the rule set.
func (h *Handler) CreateFlagRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreateFlagRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	// Validate
	if req.ID == "" || req.Name == "" || req.Expression == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "id, name, and expression are required",
		})
		return
	}

	rule := &domain.FlagRule{
		ID:          req.ID,
		TenantID:    GlobalTenantID,
		Name:        req.Name,
		Description: req.Description,
		Version:     "1.0.0",
		Expression:  req.Expression,
		FraudType:   req.FraudType,
		RiskScore:   req.RiskScore,
		Enabled:     req.Enabled,
	}

	// Validate CEL expression by attempting to load
	if err := h.flagRules.LoadRule(rule); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid flag rule: " + err.Error(),
		})
		return
	}

	// Persist to repository (global tenant ID)
	if h.repo != nil {
		if err := h.repo.SaveFlagRule(ctx, GlobalTenantID, rule); err != nil {
			slog.Error("failed to save flag rule", "id", rule.ID, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "failed to save rule",
			})
			return
		}
	}

	slog.Info("flag rule created", "id", rule.ID, "name", rule.Name)
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"rule":    rule,
		"message": "Rule created. Call POST /flagrules/reload to apply changes.",
	})
}

// DeleteFlagRule disables a flag rule and auto-reloads the rule set.
func (h *Handler) DeleteFlagRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ruleID := chi.URLParam(r, "id")

	if ruleID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "rule id is required",
		})
		return
	}

	if h.repo != nil {
		if err := h.repo.DeleteFlagRule(ctx, GlobalTenantID, ruleID); err != nil {
			slog.Error("failed to delete flag rule", "id", ruleID, "error", err)
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "rule not found",
			})
			return
		}

		// Auto-reload rule set after delete
		dbRules, err := h.repo.ListFlagRules(ctx, GlobalTenantID)
		if err != nil {
			slog.Error("failed to reload flag rules after delete", "error", err)
		} else if err := h.flagRules.ReloadRules(dbRules); err != nil {
			slog.Error("failed to reload flag rules into rule set", "error", err)
		} else {
			slog.Info("flag rules auto-reloaded after delete", "count", len(dbRules))
		}
	}

	slog.Info("flag rule deleted", "id", ruleID)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Rule deleted and rule set reloaded.",
	})
}

// ReloadFlagRules reloads all flag rules from the database into the rule set.
// This enables hot-reloading without server restart.
func (h *Handler) ReloadFlagRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	dbRules, err := h.repo.ListFlagRules(ctx, GlobalTenantID)
	if err != nil {
		slog.Error("failed to list flag rules from database", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load rules from database",
		})
		return
	}

	if err := h.flagRules.ReloadRules(dbRules); err != nil {
		slog.Error("failed to reload flag rules into rule set", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to reload rules: " + err.Error(),
		})
		return
	}

	slog.Info("flag rules reloaded from database", "count", len(dbRules))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "rules reloaded successfully",
		"count":   len(dbRules),
	})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
