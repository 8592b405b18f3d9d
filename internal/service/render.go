package service

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/noah-isme/sma-digest-notifier/internal/models"
	"github.com/noah-isme/sma-digest-notifier/pkg/export"
)

const slotDivider = "----------"

// Render formats the view as a digest grouped by lesson slot. Slots without
// sessions are omitted.
func Render(v FilterView) string {
	blocks := make([]string, 0, models.LessonSlotCount)
	for _, slot := range models.LessonTimetable {
		inSlot := v.FilterByLessonSlot(slot.Number)
		if inSlot.IsEmpty() {
			continue
		}
		lines := []string{fmt.Sprintf("[Lesson %d %s]", slot.Number, slot.Label())}
		for _, s := range inSlot.sessions {
			lines = append(lines, renderSession(s)...)
		}
		blocks = append(blocks, strings.Join(lines, "\n"))
	}
	return strings.Join(blocks, "\n"+slotDivider+"\n")
}

func renderSession(s models.CourseSession) []string {
	var lines []string
	lines = appendNonEmpty(lines, s.Name)
	lines = appendNonEmpty(lines, s.Method)
	for _, sit := range s.Situations {
		lines = appendNonEmpty(lines, strings.Join(sit.Groups, "&"))
		lines = appendNonEmpty(lines, sit.Teacher)
		lines = appendNonEmpty(lines, sit.Room)
	}
	return appendNonEmpty(lines, s.Note)
}

func appendNonEmpty(lines []string, value string) []string {
	if strings.TrimSpace(value) == "" {
		return lines
	}
	return append(lines, value)
}

// Title summarises the view as "<name>: <groups>" per session. Situation group
// lists are joined by '&', non-empty situations by '-'.
func Title(v FilterView) string {
	parts := make([]string, 0, len(v.sessions))
	for _, s := range v.sessions {
		groups := make([]string, 0, len(s.Situations))
		for _, sit := range s.Situations {
			if joined := strings.Join(sit.Groups, "&"); joined != "" {
				groups = append(groups, joined)
			}
		}
		parts = append(parts, s.Name+": "+strings.Join(groups, "-"))
	}
	return strings.Join(parts, "; ")
}

// Dataset flattens the view into one row per situation for tabular exports.
func Dataset(v FilterView) export.Dataset {
	data := export.Dataset{Headers: []string{"Slot", "Time", "Course", "Method", "Groups", "Teacher", "Room", "Note"}}
	for _, slot := range models.LessonTimetable {
		for _, s := range v.FilterByLessonSlot(slot.Number).sessions {
			situations := s.Situations
			if len(situations) == 0 {
				situations = []models.Situation{{}}
			}
			for _, sit := range situations {
				data.Rows = append(data.Rows, map[string]string{
					"Slot":    strconv.Itoa(slot.Number),
					"Time":    slot.Label(),
					"Course":  s.Name,
					"Method":  s.Method,
					"Groups":  strings.Join(sit.Groups, "&"),
					"Teacher": sit.Teacher,
					"Room":    sit.Room,
					"Note":    s.Note,
				})
			}
		}
	}
	return data
}
