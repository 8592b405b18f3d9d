package repository

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-digest-notifier/internal/models"
	"github.com/noah-isme/sma-digest-notifier/pkg/dingtalk"
)

// Default labels of the subscription smart form.
const (
	DefaultPushLabel   = "是否启用钉钉推送？"
	DefaultPushEnabled = "启用"
	DefaultURLLabel    = "请输入您要订阅的课表网址："
)

// FormSource lists smart forms and their submissions.
type FormSource interface {
	ListForms(ctx context.Context) ([]dingtalk.FormProfile, error)
	ListFormInstances(ctx context.Context, formCode string) ([]dingtalk.FormInstance, error)
}

// FormLabels names the form fields a subscription is read from.
type FormLabels struct {
	Push        string
	PushEnabled string
	URL         string
}

func (l FormLabels) withDefaults() FormLabels {
	if l.Push == "" {
		l.Push = DefaultPushLabel
	}
	if l.PushEnabled == "" {
		l.PushEnabled = DefaultPushEnabled
	}
	if l.URL == "" {
		l.URL = DefaultURLLabel
	}
	return l
}

// SubscriberRepository reads push-enabled subscriptions from smart form
// submissions.
type SubscriberRepository struct {
	source   FormSource
	formName string
	labels   FormLabels
	logger   *zap.Logger
}

// NewSubscriberRepository constructs a SubscriberRepository. An empty
// formName selects the first form the application can see.
func NewSubscriberRepository(source FormSource, formName string, labels FormLabels, logger *zap.Logger) *SubscriberRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SubscriberRepository{source: source, formName: formName, labels: labels.withDefaults(), logger: logger}
}

// FetchSubscriberForms returns one entry per submission whose push field is
// enabled. An enabled submission without a link field means the form layout
// changed, which fails the whole load.
func (r *SubscriberRepository) FetchSubscriberForms(ctx context.Context) ([]models.SubscriberForm, error) {
	formCode, err := r.formCode(ctx)
	if err != nil {
		return nil, err
	}
	instances, err := r.source.ListFormInstances(ctx, formCode)
	if err != nil {
		return nil, fmt.Errorf("list form submissions: %w", err)
	}

	forms := make([]models.SubscriberForm, 0, len(instances))
	for _, inst := range instances {
		push, _ := inst.Field(r.labels.Push)
		if push != r.labels.PushEnabled {
			continue
		}
		link, ok := inst.Field(r.labels.URL)
		if !ok {
			return nil, fmt.Errorf("form %s submission %s has no %q field, check the form layout", formCode, inst.FormInstanceID, r.labels.URL)
		}
		userID := strings.TrimSpace(inst.SubmitterUserID)
		if userID == "" {
			r.logger.Sugar().Warnw("skipping form submission without submitter", "form_instance_id", inst.FormInstanceID)
			continue
		}
		forms = append(forms, models.SubscriberForm{
			ID:              inst.FormInstanceID,
			UserID:          userID,
			SubscriptionURL: strings.TrimSpace(link),
			Push:            true,
		})
	}
	return forms, nil
}

func (r *SubscriberRepository) formCode(ctx context.Context) (string, error) {
	profiles, err := r.source.ListForms(ctx)
	if err != nil {
		return "", fmt.Errorf("list forms: %w", err)
	}
	if len(profiles) == 0 {
		return "", fmt.Errorf("no subscription form available")
	}
	if r.formName == "" {
		return profiles[0].FormCode, nil
	}
	for _, p := range profiles {
		if p.Name == r.formName {
			return p.FormCode, nil
		}
	}
	return "", fmt.Errorf("subscription form %q not found", r.formName)
}
