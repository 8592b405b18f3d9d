package models

// GradeGroup pairs a grade with one of its sub-cohort groups.
type GradeGroup struct {
	Grade string `json:"grade"`
	Group string `json:"group"`
}

// FilterQuery is the typed form of a subscription link. An empty field puts
// no constraint on its dimension.
type FilterQuery struct {
	Grades      []string     `json:"grades,omitempty"`
	Rooms       []string     `json:"rooms,omitempty"`
	Methods     []string     `json:"methods,omitempty"`
	Teachers    []string     `json:"teachers,omitempty"`
	Subjects    []string     `json:"subjects,omitempty"`
	GradeGroups []GradeGroup `json:"grade_groups,omitempty"`
}

// IsEmpty reports whether no dimension is constrained.
func (q FilterQuery) IsEmpty() bool {
	return len(q.Grades) == 0 && len(q.Rooms) == 0 && len(q.Methods) == 0 &&
		len(q.Teachers) == 0 && len(q.Subjects) == 0 && len(q.GradeGroups) == 0
}

// SubscriberForm is one subscription form submission. ID is the submission id
// and UserID the submitter.
type SubscriberForm struct {
	ID              string `json:"id"`
	UserID          string `json:"user_id"`
	SubscriptionURL string `json:"subscription_url"`
	Push            bool   `json:"push"`
}

// Subscriber is a notification recipient with a resolved directory identity.
type Subscriber struct {
	UserID          string `json:"user_id"`
	SubscriptionURL string `json:"subscription_url"`
	Identity        string `json:"identity"`
}
