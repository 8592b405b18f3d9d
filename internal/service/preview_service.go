package service

import (
	"fmt"
	"strings"

	"github.com/noah-isme/sma-digest-notifier/internal/models"
	appErrors "github.com/noah-isme/sma-digest-notifier/pkg/errors"
	"github.com/noah-isme/sma-digest-notifier/pkg/export"
)

// PreviewFormat selects how a preview is rendered.
type PreviewFormat string

const (
	PreviewText PreviewFormat = "text"
	PreviewCSV  PreviewFormat = "csv"
	PreviewPDF  PreviewFormat = "pdf"
)

type previewer interface {
	Preview(link, date string, slot int) (FilterView, error)
}

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type pdfRenderer interface {
	Render(data export.Dataset, title string) ([]byte, error)
}

// PreviewRequest identifies the view to preview.
type PreviewRequest struct {
	Link   string
	Date   string
	Slot   int
	Format PreviewFormat
}

// PreviewResult is a rendered preview.
type PreviewResult struct {
	Title       string
	Sessions    int
	Content     []byte
	ContentType string
	Filename    string
}

// PreviewService renders what a subscription link would receive.
type PreviewService struct {
	source previewer
	csv    csvRenderer
	pdf    pdfRenderer
}

// NewPreviewService constructs a PreviewService.
func NewPreviewService(source previewer, csv csvRenderer, pdf pdfRenderer) *PreviewService {
	if csv == nil {
		csv = export.NewCSVExporter()
	}
	if pdf == nil {
		pdf = export.NewPDFExporter()
	}
	return &PreviewService{source: source, csv: csv, pdf: pdf}
}

// Render resolves req and renders the resulting view.
func (s *PreviewService) Render(req PreviewRequest) (*PreviewResult, error) {
	if strings.TrimSpace(req.Link) == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "subscription link required")
	}
	if req.Format == "" {
		req.Format = PreviewText
	}

	view, err := s.source.Preview(req.Link, req.Date, req.Slot)
	if err != nil {
		return nil, err
	}

	result := &PreviewResult{Title: Title(view), Sessions: view.Len()}
	base := "timetable"
	if req.Date != "" {
		base += "-" + req.Date
	}
	if req.Slot > 0 {
		base += fmt.Sprintf("-lesson%d", req.Slot)
	}

	switch req.Format {
	case PreviewText:
		result.Content = []byte(Render(view))
		result.ContentType = "text/plain; charset=utf-8"
		result.Filename = base + ".txt"
	case PreviewCSV:
		content, err := s.csv.Render(Dataset(view))
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "render csv")
		}
		result.Content = content
		result.ContentType = "text/csv"
		result.Filename = base + ".csv"
	case PreviewPDF:
		title := "Timetable"
		if req.Date != "" {
			title += " " + req.Date
		}
		content, err := s.pdf.Render(Dataset(view), title)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "render pdf")
		}
		result.Content = content
		result.ContentType = "application/pdf"
		result.Filename = base + ".pdf"
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported format %q", req.Format))
	}
	return result, nil
}

// Timetable lists the daily lesson slots.
func Timetable() []map[string]interface{} {
	out := make([]map[string]interface{}, 0, models.LessonSlotCount)
	for _, slot := range models.LessonTimetable {
		out = append(out, map[string]interface{}{"lesson": slot.Number, "time": slot.Label(), "reminder_lead_minutes": slot.ReminderLead})
	}
	return out
}
