package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-digest-notifier/internal/models"
	"github.com/noah-isme/sma-digest-notifier/internal/service"
	appErrors "github.com/noah-isme/sma-digest-notifier/pkg/errors"
)

type fakeState struct {
	snap *service.Snapshot
}

func (f *fakeState) Ready() bool                 { return !f.snap.LoadedAt.IsZero() }
func (f *fakeState) Snapshot() *service.Snapshot { return f.snap }

type fakePreview struct {
	last   service.PreviewRequest
	result *service.PreviewResult
	err    error
}

func (f *fakePreview) Render(req service.PreviewRequest) (*service.PreviewResult, error) {
	f.last = req
	return f.result, f.err
}

type fakeDeliveries struct {
	last    models.DeliveryFilter
	records []models.DeliveryRecord
	err     error
}

func (f *fakeDeliveries) List(_ context.Context, filter models.DeliveryFilter) ([]models.DeliveryRecord, error) {
	f.last = filter
	return f.records, f.err
}

type opsFixture struct {
	router     *gin.Engine
	state      *fakeState
	preview    *fakePreview
	deliveries *fakeDeliveries
}

func newOpsFixture() *opsFixture {
	gin.SetMode(gin.TestMode)
	f := &opsFixture{
		state:      &fakeState{snap: &service.Snapshot{}},
		preview:    &fakePreview{},
		deliveries: &fakeDeliveries{},
	}
	f.router = gin.New()
	RegisterRoutes(f.router, "/api/v1", NewOpsHandler(f.state, f.preview, f.deliveries, service.NewMetricsService().Handler()))
	return f
}

func (f *opsFixture) get(path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

type responseEnvelope struct {
	Data  json.RawMessage        `json:"data"`
	Error *appErrors.Error       `json:"error"`
	Meta  map[string]interface{} `json:"meta"`
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) responseEnvelope {
	t.Helper()
	var env responseEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env
}

func TestReadyReflectsSnapshot(t *testing.T) {
	f := newOpsFixture()
	assert.Equal(t, http.StatusServiceUnavailable, f.get("/ready").Code)

	f.state.snap = &service.Snapshot{
		Catalog:     service.NewFilterView([]models.CourseSession{{ID: "c1"}}),
		Subscribers: []models.Subscriber{{UserID: "u1"}, {UserID: "u2"}},
		LoadedAt:    time.Date(2024, 3, 4, 6, 0, 0, 0, time.UTC),
	}
	rec := f.get("/ready")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ready","sessions":1,"subscribers":2,"loaded_at":"2024-03-04T06:00:00Z"}`, rec.Body.String())
}

func TestHealthAndMetrics(t *testing.T) {
	f := newOpsFixture()
	assert.Equal(t, http.StatusOK, f.get("/health").Code)

	rec := f.get("/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "goroutines_total")
}

func TestPreviewText(t *testing.T) {
	f := newOpsFixture()
	f.preview.result = &service.PreviewResult{Title: "Math: ", Sessions: 1, Content: []byte("[Lesson 2 10:05-11:40]\nMath"), ContentType: "text/plain"}

	rec := f.get("/api/v1/preview?url=%3Fgrade%3D10&date=2024-03-04&slot=2")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, service.PreviewRequest{Link: "?grade=10", Date: "2024-03-04", Slot: 2, Format: service.PreviewText}, f.preview.last)

	env := decode(t, rec)
	assert.JSONEq(t, `{"title":"Math: ","body":"[Lesson 2 10:05-11:40]\nMath"}`, string(env.Data))
	assert.Equal(t, float64(1), env.Meta["sessions"])
}

func TestPreviewFileFormats(t *testing.T) {
	f := newOpsFixture()
	f.preview.result = &service.PreviewResult{Content: []byte("Slot\n"), ContentType: "text/csv", Filename: "timetable-2024-03-04.csv"}

	rec := f.get("/api/v1/preview?url=%3Fgrade%3D10&date=2024-03-04&format=csv")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, service.PreviewCSV, f.preview.last.Format)
	assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "timetable-2024-03-04.csv")
	assert.Equal(t, "Slot\n", rec.Body.String())
}

func TestPreviewErrors(t *testing.T) {
	f := newOpsFixture()
	assert.Equal(t, http.StatusBadRequest, f.get("/api/v1/preview?url=x&slot=two").Code)
	assert.Equal(t, http.StatusBadRequest, f.get("/api/v1/preview?url=x&slot=6").Code)
	assert.Equal(t, http.StatusBadRequest, f.get("/api/v1/preview?url=x&format=xml").Code)
	assert.Equal(t, "VALIDATION_ERROR", decode(t, f.get("/api/v1/preview?date=2024-03-04")).Error.Code)

	f.preview.err = appErrors.Clone(appErrors.ErrInvalidSubscription, "groupQuery malformed")
	rec := f.get("/api/v1/preview?url=%3FgroupQuery%3Dx")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_SUBSCRIPTION", decode(t, rec).Error.Code)
}

func TestTimetable(t *testing.T) {
	f := newOpsFixture()
	rec := f.get("/api/v1/timetable")
	require.Equal(t, http.StatusOK, rec.Code)

	var rows []map[string]interface{}
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &rows))
	require.Len(t, rows, models.LessonSlotCount)
	assert.Equal(t, "08:00-09:35", rows[0]["time"])
}

func TestDeliveries(t *testing.T) {
	f := newOpsFixture()
	f.deliveries.records = []models.DeliveryRecord{{ID: "d1", Job: models.JobSlotDigest, Status: models.DeliverySent}}

	rec := f.get("/api/v1/deliveries?date=2024-03-04&job=slot_digest&limit=20")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.DeliveryFilter{TargetDate: "2024-03-04", Job: models.JobSlotDigest, Limit: 20}, f.deliveries.last)
	assert.Equal(t, float64(1), decode(t, rec).Meta["count"])

	assert.Equal(t, http.StatusBadRequest, f.get("/api/v1/deliveries?date=04-03-2024").Code)
	assert.Equal(t, http.StatusBadRequest, f.get("/api/v1/deliveries?limit=-1").Code)
	assert.Equal(t, http.StatusBadRequest, f.get("/api/v1/deliveries?job=weekly").Code)

	f.deliveries.err = appErrors.Clone(appErrors.ErrDisabled, "delivery log is disabled")
	assert.Equal(t, http.StatusServiceUnavailable, f.get("/api/v1/deliveries").Code)
}
