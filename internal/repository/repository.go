// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveAnalysis stores a completed analysis with tenant isolation.
func (r *SQLRepository) SaveAnalysis(ctx context.Context, tenantID string, analysis *domain.Analysis) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if analysis.Result == nil {
		return fmt.Errorf("%w: analysis result is required", ErrInvalidInput)
	}

	result, err := json.Marshal(analysis.Result)
	if err != nil {
		return fmt.Errorf("failed to serialize analysis result: %w", err)
	}

	eligible := 0
	if analysis.Result.LoanEligibility.IsEligible {
		eligible = 1
	}

	query := `
		INSERT INTO analyses (
			id, tenant_id, content_hash, total_transactions,
			suspicious_count, overall_risk_score, loan_score,
			loan_eligible, result, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		analysis.ID, tenantID, analysis.ContentHash,
		analysis.Result.TotalTransactions,
		analysis.Result.SuspiciousTransactions,
		analysis.Result.OverallRiskScore,
		analysis.Result.LoanEligibility.Score,
		eligible,
		string(result), analysis.CreatedAt,
	)
	return err
}

// GetAnalysis retrieves an analysis by ID with tenant isolation.
func (r *SQLRepository) GetAnalysis(ctx context.Context, tenantID string, analysisID string) (*domain.Analysis, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, content_hash, result, created_at
		FROM analyses
		WHERE tenant_id = ? AND id = ?
	`

	var a domain.Analysis
	var result string

	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, analysisID).Scan(
		&a.ID, &a.TenantID, &a.ContentHash, &result, &a.CreatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	a.Result = &domain.AnalysisResult{}
	if err := json.Unmarshal([]byte(result), a.Result); err != nil {
		return nil, fmt.Errorf("failed to parse analysis result: %w", err)
	}

	return &a, nil
}

// ListAnalyses retrieves the most recent analyses for a tenant.
func (r *SQLRepository) ListAnalyses(ctx context.Context, tenantID string, limit int) ([]*domain.Analysis, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, tenant_id, content_hash, result, created_at
		FROM analyses
		WHERE tenant_id = ?
		ORDER BY created_at DESC
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var analyses []*domain.Analysis
	for rows.Next() {
		var a domain.Analysis
		var result string

		if err := rows.Scan(
			&a.ID, &a.TenantID, &a.ContentHash, &result, &a.CreatedAt,
		); err != nil {
			return nil, err
		}

		a.Result = &domain.AnalysisResult{}
		if err := json.Unmarshal([]byte(result), a.Result); err != nil {
			return nil, fmt.Errorf("failed to parse analysis result for %s: %w", a.ID, err)
		}
		analyses = append(analyses, &a)
	}

	return analyses, rows.Err()
}

// SaveFlagRule stores a flag rule with tenant isolation.
func (r *SQLRepository) SaveFlagRule(ctx context.Context, tenantID string, rule *domain.FlagRule) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	enabled := 0
	if rule.Enabled {
		enabled = 1
	}

	now := time.Now().UTC()

	query := `
		INSERT INTO flag_rules (
			id, tenant_id, name, description, version, expression, fraud_type, risk_score, enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, tenant_id, version) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			expression = excluded.expression,
			fraud_type = excluded.fraud_type,
			risk_score = excluded.risk_score,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, tenantID, rule.Name, rule.Description,
		rule.Version, rule.Expression, rule.FraudType, rule.RiskScore, enabled,
		now, now,
	)
	return err
}

// GetFlagRule retrieves the latest active version of a flag rule.
func (r *SQLRepository) GetFlagRule(ctx context.Context, tenantID string, ruleID string) (*domain.FlagRule, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, name, description, version, expression, fraud_type, risk_score, enabled
		FROM flag_rules
		WHERE tenant_id = ? AND id = ? AND enabled = 1
		ORDER BY version DESC
		LIMIT 1
	`

	var rule domain.FlagRule
	var enabled int

	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, ruleID).Scan(
		&rule.ID, &rule.TenantID, &rule.Name, &rule.Description,
		&rule.Version, &rule.Expression, &rule.FraudType, &rule.RiskScore, &enabled,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rule.Enabled = enabled == 1

	return &rule, nil
}

// ListFlagRules retrieves all active flag rules for a tenant.
func (r *SQLRepository) ListFlagRules(ctx context.Context, tenantID string) ([]*domain.FlagRule, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, name, description, version, expression, fraud_type, risk_score, enabled
		FROM flag_rules
		WHERE tenant_id = ? AND enabled = 1
		ORDER BY name
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []*domain.FlagRule
	for rows.Next() {
		var rule domain.FlagRule
		var enabled int

		if err := rows.Scan(
			&rule.ID, &rule.TenantID, &rule.Name, &rule.Description,
			&rule.Version, &rule.Expression, &rule.FraudType, &rule.RiskScore, &enabled,
		); err != nil {
			return nil, err
		}

		rule.Enabled = enabled == 1
		rules = append(rules, &rule)
	}

	return rules, rows.Err()
}

// DeleteFlagRule soft-deletes a flag rule by setting enabled = 0.
func (r *SQLRepository) DeleteFlagRule(ctx context.Context, tenantID string, ruleID string) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		UPDATE flag_rules
		SET enabled = 0, updated_at = ?
		WHERE tenant_id = ? AND id = ?
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query), time.Now().UTC(), tenantID, ruleID)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	// Convert ? to $1, $2, etc.
	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
