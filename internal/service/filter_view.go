package service

import (
	"github.com/noah-isme/sma-digest-notifier/internal/models"
)

// FilterView is an immutable, ordered selection of course sessions. Every
// filter returns a new view backed by a new slice.
type FilterView struct {
	sessions []models.CourseSession
}

// NewFilterView builds a view over a copy of sessions.
func NewFilterView(sessions []models.CourseSession) FilterView {
	cp := make([]models.CourseSession, len(sessions))
	copy(cp, sessions)
	return FilterView{sessions: cp}
}

// Sessions returns a copy of the sessions in view order.
func (v FilterView) Sessions() []models.CourseSession {
	cp := make([]models.CourseSession, len(v.sessions))
	copy(cp, v.sessions)
	return cp
}

// Len returns the number of sessions in the view.
func (v FilterView) Len() int {
	return len(v.sessions)
}

// IsEmpty reports whether the view holds no sessions.
func (v FilterView) IsEmpty() bool {
	return len(v.sessions) == 0
}

func (v FilterView) where(keep func(models.CourseSession) bool) FilterView {
	out := make([]models.CourseSession, 0, len(v.sessions))
	for _, s := range v.sessions {
		if keep(s) {
			out = append(out, s)
		}
	}
	return FilterView{sessions: out}
}

// FilterByGrades keeps sessions whose grade is one of grades.
func (v FilterView) FilterByGrades(grades []string) FilterView {
	set := toSet(grades)
	return v.where(func(s models.CourseSession) bool {
		_, ok := set[s.Grade]
		return ok
	})
}

// FilterByLessonSlot keeps sessions held in lesson slot n.
func (v FilterView) FilterByLessonSlot(n int) FilterView {
	return v.where(func(s models.CourseSession) bool {
		return s.LessonSlot == n
	})
}

// FilterByDate keeps sessions occurring on date (YYYY-MM-DD).
func (v FilterView) FilterByDate(date string) FilterView {
	return v.where(func(s models.CourseSession) bool {
		return s.HasDate(date)
	})
}

// FilterByMethods keeps sessions whose delivery method is one of methods.
func (v FilterView) FilterByMethods(methods []string) FilterView {
	set := toSet(methods)
	return v.where(func(s models.CourseSession) bool {
		_, ok := set[s.Method]
		return ok
	})
}

// FilterByCourseNames keeps sessions whose course name is one of names.
func (v FilterView) FilterByCourseNames(names []string) FilterView {
	set := toSet(names)
	return v.where(func(s models.CourseSession) bool {
		_, ok := set[s.Name]
		return ok
	})
}

// FilterByTeachers keeps sessions taught, in any situation, by one of teachers.
func (v FilterView) FilterByTeachers(teachers []string) FilterView {
	set := toSet(teachers)
	return v.where(func(s models.CourseSession) bool {
		for _, sit := range s.Situations {
			if _, ok := set[sit.Teacher]; ok {
				return true
			}
		}
		return false
	})
}

// FilterByRooms keeps sessions held, in any situation, in one of rooms.
func (v FilterView) FilterByRooms(rooms []string) FilterView {
	set := toSet(rooms)
	return v.where(func(s models.CourseSession) bool {
		for _, sit := range s.Situations {
			if _, ok := set[sit.Room]; ok {
				return true
			}
		}
		return false
	})
}

// FilterByGradeGroups narrows to the grades named in pairs, then keeps a
// session when any of its situations either has no groups (whole grade) or
// shares a group paired with the session's grade.
func (v FilterView) FilterByGradeGroups(pairs []models.GradeGroup) FilterView {
	groupsByGrade := make(map[string]map[string]struct{}, len(pairs))
	grades := make([]string, 0, len(pairs))
	for _, p := range pairs {
		if _, ok := groupsByGrade[p.Grade]; !ok {
			groupsByGrade[p.Grade] = map[string]struct{}{}
			grades = append(grades, p.Grade)
		}
		groupsByGrade[p.Grade][p.Group] = struct{}{}
	}

	return v.FilterByGrades(grades).where(func(s models.CourseSession) bool {
		wanted := groupsByGrade[s.Grade]
		for _, sit := range s.Situations {
			if len(sit.Groups) == 0 {
				return true
			}
			for _, g := range sit.Groups {
				if _, ok := wanted[g]; ok {
					return true
				}
			}
		}
		return false
	})
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}
