package service

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-digest-notifier/internal/models"
	appErrors "github.com/noah-isme/sma-digest-notifier/pkg/errors"
	"github.com/noah-isme/sma-digest-notifier/pkg/jobs"
	"github.com/noah-isme/sma-digest-notifier/pkg/scheduler"
)

// CatalogSource loads the full course catalog.
type CatalogSource interface {
	FetchCatalog(ctx context.Context) ([]models.CourseSession, error)
}

// SubscriberSource loads push-enabled subscription forms.
type SubscriberSource interface {
	FetchSubscriberForms(ctx context.Context) ([]models.SubscriberForm, error)
}

// NotificationGateway is the messaging platform used to reach subscribers.
type NotificationGateway interface {
	Authenticate(ctx context.Context) (*models.Credential, error)
	ResolveIdentity(ctx context.Context, userID string) (string, error)
	SendMessage(ctx context.Context, userID, title, body string) error
	CreateCalendarEvent(ctx context.Context, event models.CalendarEvent) error
}

// Snapshot is an immutable copy of the catalog and subscriber directory. A
// refresh replaces the whole snapshot; jobs hold the one they started with.
type Snapshot struct {
	Catalog     FilterView
	Subscribers []models.Subscriber
	LoadedAt    time.Time
}

// DispatchConfig configures trigger times and fan-out.
type DispatchConfig struct {
	Location     *time.Location
	MisfireGrace time.Duration
	Workers      int
	RefreshSpec  string
	MorningSpec  string
	SlotSpecs    []string
	EveningSpec  string
	Clock        scheduler.Clock
}

// DispatchDependencies groups the collaborators of DispatchService.
type DispatchDependencies struct {
	Catalog     CatalogSource
	Subscribers SubscriberSource
	Gateway     NotificationGateway
	Identities  *IdentityService
	Resolver    *SubscriptionResolver
	Deliveries  *DeliveryService
	Metrics     *MetricsService
	Logger      *zap.Logger
}

// DispatchService owns the catalog and directory snapshot and runs the daily
// notification jobs.
type DispatchService struct {
	cfg         DispatchConfig
	catalog     CatalogSource
	subscribers SubscriberSource
	gateway     NotificationGateway
	identities  *IdentityService
	resolver    *SubscriptionResolver
	deliveries  *DeliveryService
	metrics     *MetricsService
	logger      *zap.Logger

	snapshot atomic.Pointer[Snapshot]
}

// Notification outcomes reported per subscriber.
const (
	outcomeSent      = "sent"
	outcomeEmpty     = "empty"
	outcomeDuplicate = "duplicate"
	outcomeFailed    = "failed"
)

// NewDispatchService constructs a DispatchService with an empty snapshot.
func NewDispatchService(cfg DispatchConfig, deps DispatchDependencies) *DispatchService {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Resolver == nil {
		deps.Resolver = NewSubscriptionResolver("")
	}
	if deps.Identities == nil {
		deps.Identities = NewIdentityService(deps.Gateway, nil, 0)
	}
	s := &DispatchService{
		cfg:         cfg,
		catalog:     deps.Catalog,
		subscribers: deps.Subscribers,
		gateway:     deps.Gateway,
		identities:  deps.Identities,
		resolver:    deps.Resolver,
		deliveries:  deps.Deliveries,
		metrics:     deps.Metrics,
		logger:      deps.Logger,
	}
	s.snapshot.Store(&Snapshot{})
	return s
}

// Snapshot returns the current catalog and directory.
func (s *DispatchService) Snapshot() *Snapshot {
	return s.snapshot.Load()
}

// Ready reports whether a refresh has loaded data at least once.
func (s *DispatchService) Ready() bool {
	return !s.Snapshot().LoadedAt.IsZero()
}

func (s *DispatchService) now() time.Time {
	if s.cfg.Clock != nil {
		return s.cfg.Clock.Now().In(s.cfg.Location)
	}
	return time.Now().In(s.cfg.Location)
}

// Refresh re-authenticates with the gateway, then reloads the catalog and the
// subscriber directory. Authentication failure is fatal. A failed load keeps
// the previous data for that part of the snapshot.
func (s *DispatchService) Refresh(ctx context.Context) error {
	if _, err := s.gateway.Authenticate(ctx); err != nil {
		s.metrics.RecordRefresh("fatal", s.Snapshot().Catalog.Len(), len(s.Snapshot().Subscribers))
		return scheduler.Fatal(appErrors.WrapAs(appErrors.ErrAuthentication, err, ""))
	}

	prev := s.Snapshot()
	next := &Snapshot{Catalog: prev.Catalog, Subscribers: prev.Subscribers, LoadedAt: prev.LoadedAt}

	var (
		errs   []error
		loaded bool
	)
	sessions, err := s.catalog.FetchCatalog(ctx)
	if err != nil {
		s.logger.Sugar().Warnw("catalog refresh failed, keeping previous catalog", "error", err)
		errs = append(errs, appErrors.WrapAs(appErrors.ErrSource, err, "load catalog"))
	} else {
		next.Catalog = NewFilterView(sessions)
		loaded = true
	}

	forms, err := s.subscribers.FetchSubscriberForms(ctx)
	if err != nil {
		s.logger.Sugar().Warnw("directory refresh failed, keeping previous directory", "error", err)
		errs = append(errs, appErrors.WrapAs(appErrors.ErrSource, err, "load subscribers"))
	} else {
		next.Subscribers = s.buildDirectory(ctx, forms)
		loaded = true
	}

	if loaded {
		next.LoadedAt = s.now()
	}
	s.snapshot.Store(next)

	status := "ok"
	switch {
	case !loaded:
		status = "failed"
	case len(errs) > 0:
		status = "partial"
	}
	s.metrics.RecordRefresh(status, next.Catalog.Len(), len(next.Subscribers))
	s.logger.Sugar().Infow("refresh completed", "sessions", next.Catalog.Len(), "subscribers", len(next.Subscribers), "status", status)
	return errors.Join(errs...)
}

// buildDirectory resolves identities for every form. Forms that cannot be
// resolved are dropped; repeated (user, link) pairs are kept once.
func (s *DispatchService) buildDirectory(ctx context.Context, forms []models.SubscriberForm) []models.Subscriber {
	seen := make(map[string]struct{}, len(forms))
	unique := make([]models.SubscriberForm, 0, len(forms))
	for _, form := range forms {
		key := form.UserID + "\x00" + form.SubscriptionURL
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		unique = append(unique, form)
	}

	batch := make([]jobs.Job, len(unique))
	for i, form := range unique {
		batch[i] = jobs.Job{ID: form.ID, Type: string(models.JobRefresh), Payload: i}
	}

	resolved := make([]models.Subscriber, len(unique))
	pool := jobs.NewPool("identity", func(ctx context.Context, job jobs.Job) error {
		i := job.Payload.(int)
		identity, err := s.identities.Resolve(ctx, unique[i].UserID)
		if err != nil {
			return err
		}
		resolved[i] = models.Subscriber{UserID: unique[i].UserID, SubscriptionURL: unique[i].SubscriptionURL, Identity: identity}
		return nil
	}, jobs.PoolConfig{Workers: s.cfg.Workers, Logger: s.logger})

	subscribers := make([]models.Subscriber, 0, len(unique))
	for i, res := range pool.Run(ctx, batch) {
		if res.Err != nil {
			s.logger.Sugar().Warnw("dropping subscriber", "user_id", unique[i].UserID, "kind", appErrors.Kind(res.Err), "error", res.Err)
			continue
		}
		subscribers = append(subscribers, resolved[i])
	}
	return subscribers
}

// MorningDigest sends every subscriber today's schedule.
func (s *DispatchService) MorningDigest(ctx context.Context) error {
	today := s.now()
	title := fmt.Sprintf("Today's classes %s", today.Format(models.DateLayout))
	return s.digest(ctx, models.JobMorningDigest, today, 0, func(FilterView) string { return title })
}

// SlotDigest returns the job that sends every subscriber the sessions of
// lesson slot n today.
func (s *DispatchService) SlotDigest(n int) scheduler.Job {
	return func(ctx context.Context) error {
		if _, ok := models.SlotByNumber(n); !ok {
			return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown lesson slot %d", n))
		}
		return s.digest(ctx, models.JobSlotDigest, s.now(), n, Title)
	}
}

// EveningDigest sends every subscriber tomorrow's schedule and then creates
// tomorrow's calendar reminders.
func (s *DispatchService) EveningDigest(ctx context.Context) error {
	tomorrow := s.now().AddDate(0, 0, 1)
	title := fmt.Sprintf("Tomorrow's classes %s", tomorrow.Format(models.DateLayout))
	digestErr := s.digest(ctx, models.JobEveningDigest, tomorrow, 0, func(FilterView) string { return title })
	calendarErr := s.CreateCalendarEvents(ctx, tomorrow)
	return errors.Join(digestErr, calendarErr)
}

// run carries the state a job captured when it started.
type run struct {
	id       string
	kind     models.JobKind
	date     string
	snapshot *Snapshot
	day      FilterView
}

func (s *DispatchService) begin(kind models.JobKind, day time.Time) run {
	snap := s.Snapshot()
	date := day.Format(models.DateLayout)
	return run{
		id:       uuid.NewString(),
		kind:     kind,
		date:     date,
		snapshot: snap,
		day:      snap.Catalog.FilterByDate(date),
	}
}

func (s *DispatchService) digest(ctx context.Context, kind models.JobKind, day time.Time, slot int, title func(FilterView) string) error {
	r := s.begin(kind, day)
	return s.fanOut(ctx, r, func(ctx context.Context, sub models.Subscriber) (string, error) {
		view, err := s.resolver.Resolve(r.day, sub.SubscriptionURL)
		if err != nil {
			return outcomeFailed, err
		}
		if slot > 0 {
			view = view.FilterByLessonSlot(slot)
		}
		if view.IsEmpty() {
			return outcomeEmpty, nil
		}
		return s.send(ctx, r, slot, sub, title(view), Render(view))
	})
}

// CreateCalendarEvents creates one reminder per non-empty lesson slot on day
// for every subscriber.
func (s *DispatchService) CreateCalendarEvents(ctx context.Context, day time.Time) error {
	r := s.begin(models.JobCalendar, day)
	return s.fanOut(ctx, r, func(ctx context.Context, sub models.Subscriber) (string, error) {
		view, err := s.resolver.Resolve(r.day, sub.SubscriptionURL)
		if err != nil {
			return outcomeFailed, err
		}
		counts := map[string]int{}
		var errs []error
		for _, slot := range models.LessonTimetable {
			inSlot := view.FilterByLessonSlot(slot.Number)
			if inSlot.IsEmpty() {
				continue
			}
			outcome, err := s.createEvent(ctx, r, day, slot, sub, inSlot)
			if err != nil {
				errs = append(errs, err)
			}
			counts[outcome]++
		}
		switch {
		case counts[outcomeFailed] > 0:
			return outcomeFailed, errors.Join(errs...)
		case counts[outcomeSent] > 0:
			return outcomeSent, nil
		case counts[outcomeDuplicate] > 0:
			return outcomeDuplicate, nil
		}
		return outcomeEmpty, nil
	})
}

func (s *DispatchService) createEvent(ctx context.Context, r run, day time.Time, slot models.LessonSlot, sub models.Subscriber, view FilterView) (string, error) {
	key := claimKey(r, slot.Number, sub)
	title := Title(view)
	if !s.deliveries.Claim(ctx, key) {
		s.record(ctx, r, slot.Number, sub, title, models.DeliveryDuplicate, nil)
		return outcomeDuplicate, nil
	}

	start, end := slot.Bounds(day)
	err := s.gateway.CreateCalendarEvent(ctx, models.CalendarEvent{
		Title:               title,
		Description:         Render(view),
		Identities:          []string{sub.Identity},
		Start:               start,
		End:                 end,
		ReminderLeadMinutes: slot.ReminderLead,
	})
	if err != nil {
		s.deliveries.Release(ctx, key)
		wrapped := appErrors.WrapAs(appErrors.ErrCalendar, err, fmt.Sprintf("create event for lesson %d", slot.Number))
		s.record(ctx, r, slot.Number, sub, title, models.DeliveryFailed, wrapped)
		return outcomeFailed, wrapped
	}
	s.record(ctx, r, slot.Number, sub, title, models.DeliverySent, nil)
	return outcomeSent, nil
}

func (s *DispatchService) send(ctx context.Context, r run, slot int, sub models.Subscriber, title, body string) (string, error) {
	key := claimKey(r, slot, sub)
	if !s.deliveries.Claim(ctx, key) {
		s.record(ctx, r, slot, sub, title, models.DeliveryDuplicate, nil)
		return outcomeDuplicate, nil
	}
	if err := s.gateway.SendMessage(ctx, sub.UserID, title, body); err != nil {
		s.deliveries.Release(ctx, key)
		wrapped := appErrors.WrapAs(appErrors.ErrGateway, err, "send message")
		s.record(ctx, r, slot, sub, title, models.DeliveryFailed, wrapped)
		return outcomeFailed, wrapped
	}
	s.record(ctx, r, slot, sub, title, models.DeliverySent, nil)
	return outcomeSent, nil
}

type subscriberTask func(ctx context.Context, sub models.Subscriber) (string, error)

// fanOut runs task for every subscriber of the run's snapshot on a bounded
// pool. Per-subscriber failures are logged and never returned.
func (s *DispatchService) fanOut(ctx context.Context, r run, task subscriberTask) error {
	subs := r.snapshot.Subscribers
	batch := make([]jobs.Job, len(subs))
	for i, sub := range subs {
		batch[i] = jobs.Job{ID: sub.UserID, Type: string(r.kind), Payload: i, Enqueued: s.now()}
	}

	outcomes := make([]string, len(subs))
	pool := jobs.NewPool(string(r.kind), func(ctx context.Context, job jobs.Job) error {
		i := job.Payload.(int)
		outcome, err := task(ctx, subs[i])
		outcomes[i] = outcome
		return err
	}, jobs.PoolConfig{Workers: s.cfg.Workers, Logger: s.logger})

	counts := map[string]int{}
	for i, res := range pool.Run(ctx, batch) {
		outcome := outcomes[i]
		if res.Err != nil {
			outcome = outcomeFailed
			s.logger.Sugar().Warnw("subscriber notification failed",
				"job", r.kind, "run_id", r.id, "date", r.date, "user_id", subs[i].UserID,
				"kind", appErrors.Kind(res.Err), "error", res.Err)
		}
		if outcome == "" {
			outcome = outcomeFailed
		}
		counts[outcome]++
		s.metrics.RecordNotification(string(r.kind), outcome)
	}

	s.logger.Sugar().Infow("job completed", "job", r.kind, "run_id", r.id, "date", r.date,
		"subscribers", len(subs), "sent", counts[outcomeSent], "empty", counts[outcomeEmpty],
		"duplicate", counts[outcomeDuplicate], "failed", counts[outcomeFailed])
	return ctx.Err()
}

func (s *DispatchService) record(ctx context.Context, r run, slot int, sub models.Subscriber, title string, status models.DeliveryStatus, err error) {
	rec := models.DeliveryRecord{
		RunID:      r.id,
		Job:        r.kind,
		TargetDate: r.date,
		Slot:       slot,
		UserID:     sub.UserID,
		Status:     status,
		Title:      title,
	}
	if err != nil {
		code := appErrors.Kind(err)
		rec.ErrorCode = &code
	}
	s.deliveries.Record(ctx, rec)
}

// claimKey identifies one notification of one subscription on one occasion.
func claimKey(r run, slot int, sub models.Subscriber) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(sub.SubscriptionURL))
	return fmt.Sprintf("delivery:%s:%s:%d:%s:%08x", r.kind, r.date, slot, sub.UserID, h.Sum32())
}

// Preview resolves link against the current catalog for date and, when slot
// is positive, a single lesson slot.
func (s *DispatchService) Preview(link, date string, slot int) (FilterView, error) {
	if strings.TrimSpace(date) == "" {
		date = s.now().Format(models.DateLayout)
	}
	if _, err := time.Parse(models.DateLayout, date); err != nil {
		return FilterView{}, appErrors.Clone(appErrors.ErrValidation, "date must be YYYY-MM-DD")
	}
	if slot != 0 {
		if _, ok := models.SlotByNumber(slot); !ok {
			return FilterView{}, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("lesson slot must be between 1 and %d", models.LessonSlotCount))
		}
	}
	view, err := s.resolver.Resolve(s.Snapshot().Catalog.FilterByDate(date), link)
	if err != nil {
		return FilterView{}, err
	}
	if slot > 0 {
		view = view.FilterByLessonSlot(slot)
	}
	return view, nil
}

// Triggers returns the refresh trigger followed by the daily triggers in
// firing order. The evening trigger ends the run.
func (s *DispatchService) Triggers() []scheduler.Trigger {
	triggers := []scheduler.Trigger{
		{Name: string(models.JobRefresh), Spec: s.cfg.RefreshSpec, Job: s.Refresh, Periodic: true, RunOnStart: true},
		{Name: string(models.JobMorningDigest), Spec: s.cfg.MorningSpec, Job: s.MorningDigest},
	}
	for i, spec := range s.cfg.SlotSpecs {
		triggers = append(triggers, scheduler.Trigger{
			Name: fmt.Sprintf("%s_%d", models.JobSlotDigest, i+1),
			Spec: spec,
			Job:  s.SlotDigest(i + 1),
		})
	}
	return append(triggers, scheduler.Trigger{Name: string(models.JobEveningDigest), Spec: s.cfg.EveningSpec, Job: s.EveningDigest, Final: true})
}

// Run schedules every trigger and blocks until the evening digest completes,
// ctx is cancelled or a fatal error occurs.
func (s *DispatchService) Run(ctx context.Context) error {
	sched := scheduler.New(scheduler.Config{
		Location:     s.cfg.Location,
		MisfireGrace: s.cfg.MisfireGrace,
		Clock:        s.cfg.Clock,
		Logger:       s.logger,
		Observer:     s.metrics,
	})
	for _, t := range s.Triggers() {
		if err := sched.Add(t); err != nil {
			return err
		}
	}
	return sched.Run(ctx)
}
