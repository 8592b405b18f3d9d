package service

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/noah-isme/sma-digest-notifier/internal/models"
)

func TestRenderGroupsBySlotAndSkipsEmptyFields(t *testing.T) {
	view := NewFilterView(sampleCatalog()).FilterByDate("2024-03-04")

	want := strings.Join([]string{
		"[Lesson 1 08:00-09:35]",
		"Physics",
		"lab",
		"A",
		"Wang",
		"Lab1",
		"B",
		"Zhao",
		"Lab2",
		"----------",
		"[Lesson 2 10:05-11:40]",
		"Math",
		"lecture",
		"Li",
		"201",
		"----------",
		"[Lesson 3 13:30-15:05]",
		"Biology",
		"lecture",
		"B",
		"Chen",
		"202",
	}, "\n")
	assert.Equal(t, want, Render(view))
}

func TestRenderIncludesNoteAndJoinsGroups(t *testing.T) {
	view := NewFilterView([]models.CourseSession{{
		ID: "pe", Name: "PE", LessonSlot: 5, Note: "bring shoes",
		Situations: []models.Situation{{Groups: []string{"A", "B"}, Room: "Gym"}},
	}})
	assert.Equal(t, "[Lesson 5 18:30-20:05]\nPE\nA&B\nGym\nbring shoes", Render(view))
}

func TestRenderEmptyView(t *testing.T) {
	assert.Equal(t, "", Render(NewFilterView(nil)))
}

func TestTitle(t *testing.T) {
	view := NewFilterView([]models.CourseSession{
		{Name: "Math", Situations: []models.Situation{{Teacher: "Li", Room: "201"}}},
		{Name: "Physics", Situations: []models.Situation{{Groups: []string{"A", "B"}}, {Groups: []string{"C"}}}},
	})
	assert.Equal(t, "Math: ; Physics: A&B-C", Title(view))
}

func TestDatasetRowsPerSituation(t *testing.T) {
	data := Dataset(NewFilterView(sampleCatalog()).FilterByDate("2024-03-04"))
	assert.Equal(t, []string{"Slot", "Time", "Course", "Method", "Groups", "Teacher", "Room", "Note"}, data.Headers)
	if assert.Len(t, data.Rows, 4) {
		assert.Equal(t, "1", data.Rows[0]["Slot"])
		assert.Equal(t, "Wang", data.Rows[0]["Teacher"])
		assert.Equal(t, "Zhao", data.Rows[1]["Teacher"])
		assert.Equal(t, "10:05-11:40", data.Rows[2]["Time"])
	}
}
