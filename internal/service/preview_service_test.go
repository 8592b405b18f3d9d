package service

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/noah-isme/sma-digest-notifier/pkg/errors"
)

type previewStub struct {
	view FilterView
	err  error
}

func (p *previewStub) Preview(string, string, int) (FilterView, error) {
	return p.view, p.err
}

func TestPreviewServiceFormats(t *testing.T) {
	view := NewFilterView(sampleCatalog()).FilterByDate("2024-03-04").FilterByLessonSlot(2)
	svc := NewPreviewService(&previewStub{view: view}, nil, nil)

	text, err := svc.Render(PreviewRequest{Link: "?grade=10", Date: "2024-03-04", Slot: 2})
	require.NoError(t, err)
	assert.Equal(t, "Math: ", text.Title)
	assert.Equal(t, 1, text.Sessions)
	assert.Equal(t, "timetable-2024-03-04-lesson2.txt", text.Filename)
	assert.Equal(t, Render(view), string(text.Content))

	csv, err := svc.Render(PreviewRequest{Link: "?grade=10", Format: PreviewCSV})
	require.NoError(t, err)
	assert.Equal(t, "text/csv", csv.ContentType)
	assert.Contains(t, string(csv.Content), "2,10:05-11:40,Math,lecture,,Li,201,")

	pdf, err := svc.Render(PreviewRequest{Link: "?grade=10", Format: PreviewPDF})
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(pdf.Content, []byte("%PDF-")))
}

func TestPreviewServiceValidation(t *testing.T) {
	svc := NewPreviewService(&previewStub{}, nil, nil)

	_, err := svc.Render(PreviewRequest{})
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	_, err = svc.Render(PreviewRequest{Link: "?grade=10", Format: "xlsx"})
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	svc = NewPreviewService(&previewStub{err: appErrors.ErrInvalidSubscription}, nil, nil)
	_, err = svc.Render(PreviewRequest{Link: "?groupQuery=x"})
	assert.ErrorIs(t, err, appErrors.ErrInvalidSubscription)
}
