package repository

// Schema definitions for the Kestrel database.
// Compatible with both SQLite and PostgreSQL.

const schemaAnalyses = `
CREATE TABLE IF NOT EXISTS analyses (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    content_hash TEXT NOT NULL,
    total_transactions INTEGER NOT NULL,
    suspicious_count INTEGER NOT NULL,
    overall_risk_score INTEGER NOT NULL,
    loan_score INTEGER NOT NULL,
    loan_eligible INTEGER NOT NULL,
    result TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_analyses_tenant ON analyses(tenant_id);
CREATE INDEX IF NOT EXISTS idx_analyses_hash ON analyses(tenant_id, content_hash);
CREATE INDEX IF NOT EXISTS idx_analyses_created ON analyses(tenant_id, created_at);
`

const schemaFlagRules = `
CREATE TABLE IF NOT EXISTS flag_rules (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    name TEXT NOT NULL,
    description TEXT,
    version TEXT NOT NULL,
    expression TEXT NOT NULL,
    fraud_type TEXT NOT NULL,
    risk_score INTEGER NOT NULL,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (id, tenant_id, version)
);

CREATE INDEX IF NOT EXISTS idx_flag_rules_tenant ON flag_rules(tenant_id);
CREATE INDEX IF NOT EXISTS idx_flag_rules_enabled ON flag_rules(tenant_id, enabled);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaAnalyses,
		schemaFlagRules,
	}
}
