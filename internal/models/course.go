package models

import (
	"encoding/json"
	"strings"
)

// CourseSession is one scheduled course occurring on one or more dates in a
// fixed lesson slot.
type CourseSession struct {
	ID         string      `json:"id" validate:"required"`
	Name       string      `json:"name"`
	Code       string      `json:"code,omitempty"`
	Color      string      `json:"color,omitempty"`
	Grade      string      `json:"grade"`
	LessonSlot int         `json:"lesson" validate:"min=1,max=5"`
	Dates      []string    `json:"dates" validate:"min=1,dive,datetime=2006-01-02"`
	Method     string      `json:"method,omitempty"`
	Note       string      `json:"note,omitempty"`
	Situations []Situation `json:"situations"`
}

// Situation is one parallel grouping of a session. Empty Groups means the
// whole grade attends.
type Situation struct {
	Teacher string   `json:"teacher,omitempty"`
	Room    string   `json:"room,omitempty"`
	Groups  []string `json:"groups,omitempty"`
}

// CourseInfo carries the descriptive attributes of a course.
type CourseInfo struct {
	Name  string `json:"name"`
	Code  string `json:"code,omitempty"`
	Bgc   string `json:"bgc,omitempty"`
	Color string `json:"color,omitempty"`
}

// Background returns the display colour, preferring bgc over color.
func (i CourseInfo) Background() string {
	if i.Bgc != "" {
		return i.Bgc
	}
	return i.Color
}

// CourseRecord is the raw course row stored by the records backend. Older rows
// keep info as a single-element array, newer ones as an object. The slot is
// stored as lessonNum; lesson is accepted as a fallback.
type CourseRecord struct {
	ID         string          `json:"id"`
	Grade      string          `json:"grade"`
	LessonNum  int             `json:"lessonNum"`
	Lesson     int             `json:"lesson"`
	Dates      []string        `json:"dates"`
	Method     string          `json:"method"`
	Note       string          `json:"note"`
	Situations []Situation     `json:"situations"`
	Info       json.RawMessage `json:"info"`
}

// ParseInfo decodes the info field in either shape.
func (r CourseRecord) ParseInfo() (CourseInfo, error) {
	raw := strings.TrimSpace(string(r.Info))
	if raw == "" || raw == "null" {
		return CourseInfo{}, nil
	}
	if strings.HasPrefix(raw, "[") {
		var list []CourseInfo
		if err := json.Unmarshal(r.Info, &list); err != nil {
			return CourseInfo{}, err
		}
		if len(list) == 0 {
			return CourseInfo{}, nil
		}
		return list[0], nil
	}
	var info CourseInfo
	if err := json.Unmarshal(r.Info, &info); err != nil {
		return CourseInfo{}, err
	}
	return info, nil
}

// ToSession flattens the record into a CourseSession.
func (r CourseRecord) ToSession() (CourseSession, error) {
	info, err := r.ParseInfo()
	if err != nil {
		return CourseSession{}, err
	}
	return CourseSession{
		ID:         r.ID,
		Name:       info.Name,
		Code:       info.Code,
		Color:      info.Background(),
		Grade:      r.Grade,
		LessonSlot: r.slot(),
		Dates:      r.Dates,
		Method:     r.Method,
		Note:       r.Note,
		Situations: r.Situations,
	}, nil
}

func (r CourseRecord) slot() int {
	if r.LessonNum != 0 {
		return r.LessonNum
	}
	return r.Lesson
}

// HasDate reports whether the session occurs on date (YYYY-MM-DD).
func (s CourseSession) HasDate(date string) bool {
	for _, d := range s.Dates {
		if d == date {
			return true
		}
	}
	return false
}
