package service

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/noah-isme/sma-digest-notifier/internal/models"
	appErrors "github.com/noah-isme/sma-digest-notifier/pkg/errors"
)

// Query parameter names understood in subscription links.
const (
	paramGrade      = "grade"
	paramRoom       = "room"
	paramMethod     = "method"
	paramTeacher    = "teacher"
	paramSubject    = "subject"
	paramGroupQuery = "groupQuery"
)

// FieldError reports a subscription parameter value that could not be decoded.
type FieldError struct {
	Field string
	Value string
	Err   error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s=%q: %v", e.Field, e.Value, e.Err)
}

func (e *FieldError) Unwrap() error {
	return e.Err
}

// SubscriptionResolver turns subscription links into filter queries and views.
type SubscriptionResolver struct {
	prefix string
}

// NewSubscriptionResolver constructs a resolver stripping prefix from links
// before parsing. An empty prefix disables stripping.
func NewSubscriptionResolver(prefix string) *SubscriptionResolver {
	return &SubscriptionResolver{prefix: prefix}
}

// Parse decodes a subscription link into a FilterQuery. Field decode errors
// are collected; any of them makes the whole link invalid.
func (r *SubscriptionResolver) Parse(link string) (models.FilterQuery, error) {
	raw := strings.TrimSpace(link)
	if r.prefix != "" {
		raw = strings.TrimPrefix(raw, r.prefix)
	}
	if idx := strings.LastIndex(raw, "?"); idx >= 0 {
		raw = raw[idx+1:]
	}

	values, err := url.ParseQuery(raw)
	if err != nil {
		return models.FilterQuery{}, appErrors.WrapAs(appErrors.ErrInvalidSubscription, err, "")
	}

	query := models.FilterQuery{
		Grades:   nonEmpty(values[paramGrade]),
		Rooms:    nonEmpty(values[paramRoom]),
		Methods:  nonEmpty(values[paramMethod]),
		Teachers: nonEmpty(values[paramTeacher]),
		Subjects: nonEmpty(values[paramSubject]),
	}

	var fieldErrs []error
	for _, rawPair := range values[paramGroupQuery] {
		pair, err := decodeGradeGroup(rawPair)
		if err != nil {
			fieldErrs = append(fieldErrs, &FieldError{Field: paramGroupQuery, Value: rawPair, Err: err})
			continue
		}
		query.GradeGroups = append(query.GradeGroups, pair)
	}

	if len(fieldErrs) > 0 {
		return query, appErrors.WrapAs(appErrors.ErrInvalidSubscription, errors.Join(fieldErrs...), "")
	}
	return query, nil
}

func decodeGradeGroup(raw string) (models.GradeGroup, error) {
	var pair []string
	if err := json.Unmarshal([]byte(raw), &pair); err != nil {
		return models.GradeGroup{}, err
	}
	if len(pair) != 2 {
		return models.GradeGroup{}, fmt.Errorf("expected [grade, group], got %d elements", len(pair))
	}
	return models.GradeGroup{Grade: pair[0], Group: pair[1]}, nil
}

func nonEmpty(values []string) []string {
	var out []string
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// BuildView narrows the catalog by every constrained dimension of query, in
// the order grades, rooms, methods, teachers, grade groups, subjects.
func BuildView(catalog FilterView, query models.FilterQuery) FilterView {
	view := catalog
	if len(query.Grades) > 0 {
		view = view.FilterByGrades(query.Grades)
	}
	if len(query.Rooms) > 0 {
		view = view.FilterByRooms(query.Rooms)
	}
	if len(query.Methods) > 0 {
		view = view.FilterByMethods(query.Methods)
	}
	if len(query.Teachers) > 0 {
		view = view.FilterByTeachers(query.Teachers)
	}
	if len(query.GradeGroups) > 0 {
		view = view.FilterByGradeGroups(query.GradeGroups)
	}
	if len(query.Subjects) > 0 {
		view = view.FilterByCourseNames(query.Subjects)
	}
	return view
}

// Resolve parses link and builds the subscriber's view of catalog.
func (r *SubscriptionResolver) Resolve(catalog FilterView, link string) (FilterView, error) {
	query, err := r.Parse(link)
	if err != nil {
		return FilterView{}, err
	}
	return BuildView(catalog, query), nil
}
