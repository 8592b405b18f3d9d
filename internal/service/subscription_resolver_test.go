package service

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-digest-notifier/internal/models"
	appErrors "github.com/noah-isme/sma-digest-notifier/pkg/errors"
)

func TestParseSubscriptionLink(t *testing.T) {
	r := NewSubscriptionResolver("https://schedule.example.com/#/subscribe")

	q, err := r.Parse(`https://schedule.example.com/#/subscribe?grade=10&grade=11&room=201&method=lab&teacher=Li&subject=Math&groupQuery=["10","A"]`)
	require.NoError(t, err)
	assert.Equal(t, models.FilterQuery{
		Grades:      []string{"10", "11"},
		Rooms:       []string{"201"},
		Methods:     []string{"lab"},
		Teachers:    []string{"Li"},
		Subjects:    []string{"Math"},
		GradeGroups: []models.GradeGroup{{Grade: "10", Group: "A"}},
	}, q)
}

func TestParseIgnoresBlankValues(t *testing.T) {
	q, err := NewSubscriptionResolver("").Parse("?grade=&room=%20")
	require.NoError(t, err)
	assert.True(t, q.IsEmpty())
}

func TestParseRejectsMalformedGroupQuery(t *testing.T) {
	r := NewSubscriptionResolver("")
	for _, link := range []string{
		`?groupQuery=10A`,
		`?groupQuery=["10"]`,
		`?grade=10&groupQuery=["10","A","B"]`,
	} {
		_, err := r.Parse(link)
		require.Error(t, err, link)
		assert.True(t, errors.Is(err, appErrors.ErrInvalidSubscription), link)
		var fe *FieldError
		assert.True(t, errors.As(err, &fe), link)
	}
}

func TestParseRejectsBadEscape(t *testing.T) {
	_, err := NewSubscriptionResolver("").Parse("?grade=%zz")
	assert.ErrorIs(t, err, appErrors.ErrInvalidSubscription)
}

func TestBuildViewEmptyQueryMatchesEverything(t *testing.T) {
	catalog := NewFilterView(sampleCatalog())
	assert.Equal(t, catalog.Len(), BuildView(catalog, models.FilterQuery{}).Len())
}

func TestBuildViewAppliesEveryDimension(t *testing.T) {
	catalog := NewFilterView(sampleCatalog())
	view := BuildView(catalog, models.FilterQuery{
		Grades:   []string{"10"},
		Methods:  []string{"lecture"},
		Teachers: []string{"Li", "Chen"},
	})
	assert.Equal(t, []string{"math", "bio"}, ids(view))
}

func TestResolveEndToEnd(t *testing.T) {
	catalog := NewFilterView([]models.CourseSession{{
		ID: "c1", Name: "Math", Grade: "10", LessonSlot: 2, Dates: []string{"2024-03-04"},
		Situations: []models.Situation{{Teacher: "Li", Room: "201"}},
	}})
	r := NewSubscriptionResolver("")

	view, err := r.Resolve(catalog, "?grade=10")
	require.NoError(t, err)
	view = view.FilterByDate("2024-03-04").FilterByLessonSlot(2)
	require.Equal(t, 1, view.Len())
	assert.Equal(t, "Math: ", Title(view))

	other, err := r.Resolve(catalog, "?grade=11")
	require.NoError(t, err)
	assert.True(t, other.FilterByDate("2024-03-04").FilterByLessonSlot(2).IsEmpty())
}
