package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-digest-notifier/internal/models"
	appErrors "github.com/noah-isme/sma-digest-notifier/pkg/errors"
)

type deliveryStore interface {
	Record(ctx context.Context, record *models.DeliveryRecord) error
	List(ctx context.Context, filter models.DeliveryFilter) ([]models.DeliveryRecord, error)
}

// DeliveryService guards against duplicate sends and keeps the audit trail.
type DeliveryService struct {
	claims   *CacheService
	store    deliveryStore
	claimTTL time.Duration
	logger   *zap.Logger
}

// NewDeliveryService constructs a DeliveryService. claims and store are
// optional.
func NewDeliveryService(claims *CacheService, store deliveryStore, claimTTL time.Duration, logger *zap.Logger) *DeliveryService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if claimTTL <= 0 {
		claimTTL = 36 * time.Hour
	}
	return &DeliveryService{claims: claims, store: store, claimTTL: claimTTL, logger: logger}
}

// Claim reports whether the notification identified by key may be sent.
func (s *DeliveryService) Claim(ctx context.Context, key string) bool {
	if s == nil {
		return true
	}
	return s.claims.Claim(ctx, key, s.claimTTL)
}

// Release gives a claim back after a failed send so a later run may retry.
func (s *DeliveryService) Release(ctx context.Context, key string) {
	if s == nil {
		return
	}
	s.claims.Release(ctx, key)
}

// Record stores the outcome. Storage failures are logged only.
func (s *DeliveryService) Record(ctx context.Context, record models.DeliveryRecord) {
	if s == nil || s.store == nil {
		return
	}
	if err := s.store.Record(ctx, &record); err != nil {
		s.logger.Sugar().Warnw("failed to record delivery", "user_id", record.UserID, "job", record.Job, "error", err)
	}
}

// List returns recorded outcomes.
func (s *DeliveryService) List(ctx context.Context, filter models.DeliveryFilter) ([]models.DeliveryRecord, error) {
	if s == nil || s.store == nil {
		return nil, appErrors.Clone(appErrors.ErrDisabled, "delivery log is disabled")
	}
	records, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list deliveries")
	}
	return records, nil
}
