package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-digest-notifier/internal/models"
	"github.com/noah-isme/sma-digest-notifier/pkg/pocketbase"
)

// RecordLister lists every record of a backend collection.
type RecordLister interface {
	ListAll(ctx context.Context, collection string, opts pocketbase.ListOptions) ([]json.RawMessage, error)
}

// CourseRepository loads the course catalog from the records backend.
type CourseRepository struct {
	client     RecordLister
	collection string
	validate   *validator.Validate
	logger     *zap.Logger
}

// NewCourseRepository constructs a CourseRepository.
func NewCourseRepository(client RecordLister, collection string, logger *zap.Logger) *CourseRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CourseRepository{client: client, collection: collection, validate: validator.New(), logger: logger}
}

// FetchCatalog returns every valid course session. Records that fail to decode
// or validate are skipped and logged.
func (r *CourseRepository) FetchCatalog(ctx context.Context) ([]models.CourseSession, error) {
	items, err := r.client.ListAll(ctx, r.collection, pocketbase.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("list courses: %w", err)
	}

	sessions := make([]models.CourseSession, 0, len(items))
	for _, raw := range items {
		var record models.CourseRecord
		if err := json.Unmarshal(raw, &record); err != nil {
			r.logger.Sugar().Warnw("skipping undecodable course record", "error", err)
			continue
		}
		session, err := record.ToSession()
		if err != nil {
			r.logger.Sugar().Warnw("skipping course record with bad info", "course_id", record.ID, "error", err)
			continue
		}
		if err := r.validate.Struct(session); err != nil {
			r.logger.Sugar().Warnw("skipping invalid course record", "course_id", record.ID, "error", err)
			continue
		}
		sessions = append(sessions, session)
	}
	return sessions, nil
}
