package repository

// Schema definitions for the AutoPilot database.
// Compatible with both SQLite and PostgreSQL.

const schemaBusinesses = `
CREATE TABLE IF NOT EXISTS businesses (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    name TEXT NOT NULL,
    niche TEXT,
    status TEXT NOT NULL,
    revenue_generated REAL NOT NULL DEFAULT 0,
    monthly_recurring REAL NOT NULL DEFAULT 0,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    metadata TEXT,
    PRIMARY KEY (id, tenant_id)
);

CREATE INDEX IF NOT EXISTS idx_businesses_tenant ON businesses(tenant_id);
CREATE INDEX IF NOT EXISTS idx_businesses_status ON businesses(tenant_id, status);
CREATE INDEX IF NOT EXISTS idx_businesses_revenue ON businesses(tenant_id, revenue_generated);
`

const schemaPaymentIntents = `
CREATE TABLE IF NOT EXISTS payment_intents (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    business_id TEXT NOT NULL,
    amount REAL NOT NULL,
    currency TEXT NOT NULL,
    status TEXT NOT NULL,
    idempotency_key TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    metadata TEXT,
    PRIMARY KEY (id, tenant_id)
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_intents_idempotency ON payment_intents(tenant_id, idempotency_key);
CREATE INDEX IF NOT EXISTS idx_intents_business ON payment_intents(tenant_id, business_id);
CREATE INDEX IF NOT EXISTS idx_intents_status ON payment_intents(tenant_id, status);
`

const schemaWebhookEvents = `
CREATE TABLE IF NOT EXISTS webhook_events (
    provider_event_id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    type TEXT NOT NULL,
    intent_id TEXT NOT NULL,
    payload BLOB,
    received_at TIMESTAMP NOT NULL,
    PRIMARY KEY (provider_event_id, tenant_id)
);

CREATE INDEX IF NOT EXISTS idx_webhook_events_intent ON webhook_events(tenant_id, intent_id);
`

const schemaCampaigns = `
CREATE TABLE IF NOT EXISTS scaling_campaigns (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    business_id TEXT NOT NULL,
    name TEXT NOT NULL,
    status TEXT NOT NULL,
    daily_budget REAL NOT NULL DEFAULT 0,
    daily_spend REAL NOT NULL DEFAULT 0,
    total_spend REAL NOT NULL DEFAULT 0,
    impressions INTEGER NOT NULL DEFAULT 0,
    clicks INTEGER NOT NULL DEFAULT 0,
    conversions INTEGER NOT NULL DEFAULT 0,
    revenue REAL NOT NULL DEFAULT 0,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (id, tenant_id)
);

CREATE INDEX IF NOT EXISTS idx_campaigns_tenant ON scaling_campaigns(tenant_id);
CREATE INDEX IF NOT EXISTS idx_campaigns_status ON scaling_campaigns(tenant_id, status);
`

const schemaExperiments = `
CREATE TABLE IF NOT EXISTS experiments (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    name TEXT NOT NULL,
    business_id TEXT,
    locales TEXT,
    variants TEXT NOT NULL,
    significance REAL NOT NULL DEFAULT 0.05,
    min_samples INTEGER NOT NULL DEFAULT 100,
    state TEXT NOT NULL,
    winner_id TEXT,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (id, tenant_id)
);

CREATE INDEX IF NOT EXISTS idx_experiments_tenant ON experiments(tenant_id);
CREATE INDEX IF NOT EXISTS idx_experiments_state ON experiments(tenant_id, state);
`

const schemaVariantCounters = `
CREATE TABLE IF NOT EXISTS variant_counters (
    experiment_id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    variant_id TEXT NOT NULL,
    locale TEXT NOT NULL,
    exposures INTEGER NOT NULL DEFAULT 0,
    conversions INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (experiment_id, tenant_id, variant_id, locale)
);
`

const schemaGuardrails = `
CREATE TABLE IF NOT EXISTS guardrails (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    name TEXT NOT NULL,
    description TEXT,
    version TEXT NOT NULL,
    expression TEXT NOT NULL,
    bands TEXT NOT NULL,
    weight REAL NOT NULL DEFAULT 1.0,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (id, tenant_id, version)
);

CREATE INDEX IF NOT EXISTS idx_guardrails_tenant ON guardrails(tenant_id);
CREATE INDEX IF NOT EXISTS idx_guardrails_enabled ON guardrails(tenant_id, enabled);
`

const schemaDecisions = `
CREATE TABLE IF NOT EXISTS decisions (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    campaign_id TEXT NOT NULL,
    action TEXT NOT NULL,
    status TEXT NOT NULL,
    score REAL NOT NULL,
    timestamp TIMESTAMP NOT NULL,
    guardrail_results TEXT NOT NULL,
    metadata TEXT NOT NULL,
    PRIMARY KEY (id, tenant_id)
);

CREATE INDEX IF NOT EXISTS idx_decisions_campaign ON decisions(tenant_id, campaign_id);
CREATE INDEX IF NOT EXISTS idx_decisions_status ON decisions(tenant_id, status);
`

const schemaPolicySnapshots = `
CREATE TABLE IF NOT EXISTS policy_snapshots (
    policy_id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    snapshot TEXT NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (policy_id, tenant_id)
);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaBusinesses,
		schemaPaymentIntents,
		schemaWebhookEvents,
		schemaCampaigns,
		schemaExperiments,
		schemaVariantCounters,
		schemaGuardrails,
		schemaDecisions,
		schemaPolicySnapshots,
	}
}
