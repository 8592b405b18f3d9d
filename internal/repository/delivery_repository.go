package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-digest-notifier/internal/models"
)

const deliverySchema = `CREATE TABLE IF NOT EXISTS notification_deliveries (
	id UUID PRIMARY KEY,
	run_id UUID NOT NULL,
	job TEXT NOT NULL,
	target_date DATE NOT NULL,
	slot SMALLINT NOT NULL DEFAULT 0,
	user_id TEXT NOT NULL,
	status TEXT NOT NULL,
	error_code TEXT NULL,
	title TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL
)`

// DeliveryRepository persists notification outcomes for auditing.
type DeliveryRepository struct {
	db *sqlx.DB
}

// NewDeliveryRepository constructs a DeliveryRepository.
func NewDeliveryRepository(db *sqlx.DB) *DeliveryRepository {
	return &DeliveryRepository{db: db}
}

// EnsureSchema creates the deliveries table when missing.
func (r *DeliveryRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, deliverySchema); err != nil {
		return fmt.Errorf("ensure delivery schema: %w", err)
	}
	return nil
}

// Record inserts one delivery outcome.
func (r *DeliveryRepository) Record(ctx context.Context, record *models.DeliveryRecord) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO notification_deliveries (id, run_id, job, target_date, slot, user_id, status, error_code, title, created_at)
VALUES (:id, :run_id, :job, :target_date, :slot, :user_id, :status, :error_code, :title, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, record); err != nil {
		return fmt.Errorf("insert delivery: %w", err)
	}
	return nil
}

// List returns delivery outcomes matching filter, newest first.
func (r *DeliveryRepository) List(ctx context.Context, filter models.DeliveryFilter) ([]models.DeliveryRecord, error) {
	var conditions []string
	var args []interface{}
	if filter.TargetDate != "" {
		args = append(args, filter.TargetDate)
		conditions = append(conditions, fmt.Sprintf("target_date = $%d", len(args)))
	}
	if filter.Job != "" {
		args = append(args, string(filter.Job))
		conditions = append(conditions, fmt.Sprintf("job = $%d", len(args)))
	}
	if filter.UserID != "" {
		args = append(args, filter.UserID)
		conditions = append(conditions, fmt.Sprintf("user_id = $%d", len(args)))
	}

	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	query := "SELECT id, run_id, job, to_char(target_date, 'YYYY-MM-DD') AS target_date, slot, user_id, status, error_code, title, created_at FROM notification_deliveries WHERE 1=1"
	if len(conditions) > 0 {
		query += " AND " + strings.Join(conditions, " AND ")
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT %d", limit)

	var records []models.DeliveryRecord
	if err := r.db.SelectContext(ctx, &records, query, args...); err != nil {
		return nil, fmt.Errorf("list deliveries: %w", err)
	}
	return records, nil
}
