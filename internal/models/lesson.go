package models

import (
	"fmt"
	"time"
)

// LessonSlot describes one of the fixed daily lesson periods. Start and End
// are minutes after midnight.
type LessonSlot struct {
	Number       int
	Start        int
	End          int
	ReminderLead int
}

// LessonSlotCount is the number of lesson periods per day.
const LessonSlotCount = 5

// LessonTimetable lists the daily lesson periods in order.
var LessonTimetable = [LessonSlotCount]LessonSlot{
	{Number: 1, Start: 8 * 60, End: 9*60 + 35, ReminderLead: 90},
	{Number: 2, Start: 10*60 + 5, End: 11*60 + 40, ReminderLead: 30},
	{Number: 3, Start: 13*60 + 30, End: 15*60 + 5, ReminderLead: 110},
	{Number: 4, Start: 15*60 + 35, End: 17*60 + 10, ReminderLead: 30},
	{Number: 5, Start: 18*60 + 30, End: 20*60 + 5, ReminderLead: 80},
}

// SlotByNumber returns the lesson period n (1-based).
func SlotByNumber(n int) (LessonSlot, bool) {
	if n < 1 || n > LessonSlotCount {
		return LessonSlot{}, false
	}
	return LessonTimetable[n-1], true
}

// Bounds returns the start and end instants of the slot on day, in day's location.
func (s LessonSlot) Bounds(day time.Time) (time.Time, time.Time) {
	midnight := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	return midnight.Add(time.Duration(s.Start) * time.Minute), midnight.Add(time.Duration(s.End) * time.Minute)
}

// Label renders the slot as "HH:MM-HH:MM".
func (s LessonSlot) Label() string {
	return fmt.Sprintf("%s-%s", clock(s.Start), clock(s.End))
}

func clock(minutes int) string {
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}

// DateLayout is the calendar date format used throughout the catalog.
const DateLayout = "2006-01-02"
