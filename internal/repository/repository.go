// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/autopilot-ventures/autopilot/internal/domain"
)

var (
	ErrNotFound       = errors.New("record not found")
	ErrInvalidInput   = errors.New("invalid input")
	ErrDuplicateEvent = errors.New("duplicate webhook event")
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

// SaveBusiness stores or updates a business with tenant isolation.
func (r *SQLRepository) SaveBusiness(ctx context.Context, tenantID string, b *domain.Business) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	metadata, _ := json.Marshal(b.Metadata)

	query := `
		INSERT INTO businesses (
			id, tenant_id, name, niche, status,
			revenue_generated, monthly_recurring,
			created_at, updated_at, metadata
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, tenant_id) DO UPDATE SET
			name = excluded.name,
			niche = excluded.niche,
			status = excluded.status,
			revenue_generated = excluded.revenue_generated,
			monthly_recurring = excluded.monthly_recurring,
			updated_at = excluded.updated_at,
			metadata = excluded.metadata
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		b.ID, tenantID, b.Name, b.Niche, b.Status,
		b.RevenueGenerated, b.MonthlyRecurring,
		b.CreatedAt, b.UpdatedAt, string(metadata),
	)
	return err
}

// GetBusiness retrieves a business by ID with tenant isolation.
func (r *SQLRepository) GetBusiness(ctx context.Context, tenantID string, businessID string) (*domain.Business, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, name, niche, status,
			   revenue_generated, monthly_recurring,
			   created_at, updated_at, metadata
		FROM businesses
		WHERE tenant_id = ? AND id = ?
	`

	var b domain.Business
	var metadata string

	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, businessID).Scan(
		&b.ID, &b.TenantID, &b.Name, &b.Niche, &b.Status,
		&b.RevenueGenerated, &b.MonthlyRecurring,
		&b.CreatedAt, &b.UpdatedAt, &metadata,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if metadata != "" {
		json.Unmarshal([]byte(metadata), &b.Metadata)
	}

	return &b, nil
}

// ListBusinesses retrieves all businesses for a tenant.
func (r *SQLRepository) ListBusinesses(ctx context.Context, tenantID string) ([]*domain.Business, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, name, niche, status,
			   revenue_generated, monthly_recurring,
			   created_at, updated_at, metadata
		FROM businesses
		WHERE tenant_id = ?
		ORDER BY created_at DESC
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var businesses []*domain.Business
	for rows.Next() {
		var b domain.Business
		var metadata string

		if err := rows.Scan(
			&b.ID, &b.TenantID, &b.Name, &b.Niche, &b.Status,
			&b.RevenueGenerated, &b.MonthlyRecurring,
			&b.CreatedAt, &b.UpdatedAt, &metadata,
		); err != nil {
			return nil, err
		}

		if metadata != "" {
			json.Unmarshal([]byte(metadata), &b.Metadata)
		}

		businesses = append(businesses, &b)
	}

	return businesses, rows.Err()
}

// AddBusinessRevenue increments a business's lifetime revenue in place.
func (r *SQLRepository) AddBusinessRevenue(ctx context.Context, tenantID string, businessID string, amount float64) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		UPDATE businesses
		SET revenue_generated = revenue_generated + ?, updated_at = ?
		WHERE tenant_id = ? AND id = ?
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query), amount, time.Now().UTC(), tenantID, businessID)
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

// SavePaymentIntent stores a payment intent with tenant isolation.
func (r *SQLRepository) SavePaymentIntent(ctx context.Context, tenantID string, intent *domain.PaymentIntent) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if intent.IdempotencyKey == "" {
		return fmt.Errorf("%w: idempotency key is required", ErrInvalidInput)
	}

	metadata, _ := json.Marshal(intent.Metadata)

	query := `
		INSERT INTO payment_intents (
			id, tenant_id, business_id, amount, currency,
			status, idempotency_key, created_at, updated_at, metadata
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		intent.ID, tenantID, intent.BusinessID,
		intent.Amount, intent.Currency,
		intent.Status, intent.IdempotencyKey,
		intent.CreatedAt, intent.UpdatedAt, string(metadata),
	)
	return err
}

// GetPaymentIntent retrieves a payment intent by ID with tenant isolation.
func (r *SQLRepository) GetPaymentIntent(ctx context.Context, tenantID string, intentID string) (*domain.PaymentIntent, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, business_id, amount, currency,
			   status, idempotency_key, created_at, updated_at, metadata
		FROM payment_intents
		WHERE tenant_id = ? AND id = ?
	`

	return r.scanIntent(r.db.QueryRowContext(ctx, r.rebind(query), tenantID, intentID))
}

// GetIntentByIdempotencyKey retrieves an intent by its idempotency key,
// allowing repeated creation requests to return the original intent.
func (r *SQLRepository) GetIntentByIdempotencyKey(ctx context.Context, tenantID string, key string) (*domain.PaymentIntent, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, business_id, amount, currency,
			   status, idempotency_key, created_at, updated_at, metadata
		FROM payment_intents
		WHERE tenant_id = ? AND idempotency_key = ?
	`

	return r.scanIntent(r.db.QueryRowContext(ctx, r.rebind(query), tenantID, key))
}

func (r *SQLRepository) scanIntent(row *sql.Row) (*domain.PaymentIntent, error) {
	var intent domain.PaymentIntent
	var metadata string

	err := row.Scan(
		&intent.ID, &intent.TenantID, &intent.BusinessID,
		&intent.Amount, &intent.Currency,
		&intent.Status, &intent.IdempotencyKey,
		&intent.CreatedAt, &intent.UpdatedAt, &metadata,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if metadata != "" {
		json.Unmarshal([]byte(metadata), &intent.Metadata)
	}

	return &intent, nil
}

// UpdateIntentStatus moves an intent from one status to another. The
// update is conditional on the current status, so concurrent or replayed
// transitions cannot skip states.
func (r *SQLRepository) UpdateIntentStatus(ctx context.Context, tenantID string, intentID string, from, to string) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if !domain.CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, from, to)
	}

	query := `
		UPDATE payment_intents
		SET status = ?, updated_at = ?
		WHERE tenant_id = ? AND id = ? AND status = ?
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query), to, time.Now().UTC(), tenantID, intentID, from)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		if _, err := r.GetPaymentIntent(ctx, tenantID, intentID); errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("%w: intent %s is not %s", domain.ErrInvalidTransition, intentID, from)
	}

	return nil
}

// ListIntentsByBusiness retrieves payment intents for a business since a
// point in time, newest first.
func (r *SQLRepository) ListIntentsByBusiness(ctx context.Context, tenantID string, businessID string, since time.Time) ([]*domain.PaymentIntent, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, business_id, amount, currency,
			   status, idempotency_key, created_at, updated_at, metadata
		FROM payment_intents
		WHERE tenant_id = ? AND business_id = ? AND created_at >= ?
		ORDER BY created_at DESC
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, businessID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var intents []*domain.PaymentIntent
	for rows.Next() {
		var intent domain.PaymentIntent
		var metadata string

		if err := rows.Scan(
			&intent.ID, &intent.TenantID, &intent.BusinessID,
			&intent.Amount, &intent.Currency,
			&intent.Status, &intent.IdempotencyKey,
			&intent.CreatedAt, &intent.UpdatedAt, &metadata,
		); err != nil {
			return nil, err
		}

		if metadata != "" {
			json.Unmarshal([]byte(metadata), &intent.Metadata)
		}

		intents = append(intents, &intent)
	}

	return intents, rows.Err()
}

// InsertWebhookEvent records an inbound provider event. Returns
// ErrDuplicateEvent when the provider event ID was already seen for
// this tenant, which is how webhook replays are detected.
func (r *SQLRepository) InsertWebhookEvent(ctx context.Context, tenantID string, event *domain.WebhookEvent) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO webhook_events (
			provider_event_id, tenant_id, type, intent_id, payload, received_at
		) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(provider_event_id, tenant_id) DO NOTHING
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query),
		event.ProviderEventID, tenantID, event.Type,
		event.IntentID, event.Payload, event.ReceivedAt,
	)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrDuplicateEvent
	}

	return nil
}

// ApplyWebhookEvent runs the webhook apply pipeline in one transaction:
// insert the dedup record, transition the intent, and credit business
// revenue on settlement. Any failure rolls the whole event back,
// including the dedup record, so a retried delivery is not mistaken
// for a replay of an applied event. Returns the intent at its new
// status.
func (r *SQLRepository) ApplyWebhookEvent(ctx context.Context, tenantID string, event *domain.WebhookEvent, target string) (*domain.PaymentIntent, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	insert := `
		INSERT INTO webhook_events (
			provider_event_id, tenant_id, type, intent_id, payload, received_at
		) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(provider_event_id, tenant_id) DO NOTHING
	`

	result, err := tx.ExecContext(ctx, r.rebind(insert),
		event.ProviderEventID, tenantID, event.Type,
		event.IntentID, event.Payload, event.ReceivedAt,
	)
	if err != nil {
		return nil, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}
	if rows == 0 {
		return nil, ErrDuplicateEvent
	}

	query := `
		SELECT id, tenant_id, business_id, amount, currency,
			   status, idempotency_key, created_at, updated_at, metadata
		FROM payment_intents
		WHERE tenant_id = ? AND id = ?
	`

	intent, err := r.scanIntent(tx.QueryRowContext(ctx, r.rebind(query), tenantID, event.IntentID))
	if err != nil {
		return nil, err
	}

	if !domain.CanTransition(intent.Status, target) {
		return nil, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, intent.Status, target)
	}

	update := `
		UPDATE payment_intents
		SET status = ?, updated_at = ?
		WHERE tenant_id = ? AND id = ? AND status = ?
	`

	result, err = tx.ExecContext(ctx, r.rebind(update), target, time.Now().UTC(), tenantID, intent.ID, intent.Status)
	if err != nil {
		return nil, err
	}
	rows, err = result.RowsAffected()
	if err != nil {
		return nil, err
	}
	if rows == 0 {
		return nil, fmt.Errorf("%w: intent %s is not %s", domain.ErrInvalidTransition, intent.ID, intent.Status)
	}

	if target == domain.IntentSucceeded {
		credit := `
			UPDATE businesses
			SET revenue_generated = revenue_generated + ?, updated_at = ?
			WHERE tenant_id = ? AND id = ?
		`

		result, err = tx.ExecContext(ctx, r.rebind(credit), intent.Amount, time.Now().UTC(), tenantID, intent.BusinessID)
		if err != nil {
			return nil, err
		}
		rows, err = result.RowsAffected()
		if err != nil {
			return nil, err
		}
		if rows == 0 {
			return nil, ErrNotFound
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	intent.Status = target
	return intent, nil
}

// GetWebhookEvent retrieves a stored webhook event with tenant isolation.
func (r *SQLRepository) GetWebhookEvent(ctx context.Context, tenantID string, providerEventID string) (*domain.WebhookEvent, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT provider_event_id, tenant_id, type, intent_id, payload, received_at
		FROM webhook_events
		WHERE tenant_id = ? AND provider_event_id = ?
	`

	var event domain.WebhookEvent

	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, providerEventID).Scan(
		&event.ProviderEventID, &event.TenantID, &event.Type,
		&event.IntentID, &event.Payload, &event.ReceivedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return &event, nil
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
