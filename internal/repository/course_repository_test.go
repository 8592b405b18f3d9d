package repository

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-digest-notifier/pkg/pocketbase"
)

type listerStub struct {
	items      []string
	err        error
	collection string
	opts       pocketbase.ListOptions
}

func (l *listerStub) ListAll(_ context.Context, collection string, opts pocketbase.ListOptions) ([]json.RawMessage, error) {
	l.collection = collection
	l.opts = opts
	if l.err != nil {
		return nil, l.err
	}
	out := make([]json.RawMessage, 0, len(l.items))
	for _, item := range l.items {
		out = append(out, json.RawMessage(item))
	}
	return out, nil
}

func TestCourseRepositoryFetchCatalog(t *testing.T) {
	lister := &listerStub{items: []string{
		`{"id":"c1","grade":"10","lesson":2,"dates":["2024-03-04"],"situations":[{"teacher":"Li","room":"201","groups":[]}],"info":{"name":"Math"}}`,
		`{"id":"c2","grade":"11","lesson":5,"dates":["2024-03-05"],"method":"online","situations":[],"info":[{"name":"Physics","code":"PHY"}]}`,
		`{"id":"c3","grade":"10","lesson":6,"dates":["2024-03-04"],"info":{"name":"Out of range"}}`,
		`{"id":"c4","grade":"10","lesson":1,"dates":[],"info":{"name":"No dates"}}`,
		`{"id":"c5","grade":"10","lesson":1,"dates":["04/03/2024"],"info":{"name":"Bad date"}}`,
		`{"id":"c6","grade":"10","lesson":1,"dates":["2024-03-04"],"info":"oops"}`,
		`not json`,
	}}
	repo := NewCourseRepository(lister, "course", nil)

	sessions, err := repo.FetchCatalog(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "course", lister.collection)
	require.Len(t, sessions, 2)

	assert.Equal(t, "Math", sessions[0].Name)
	assert.Equal(t, 2, sessions[0].LessonSlot)
	assert.Equal(t, "Li", sessions[0].Situations[0].Teacher)

	assert.Equal(t, "Physics", sessions[1].Name)
	assert.Equal(t, "PHY", sessions[1].Code)
	assert.Equal(t, "online", sessions[1].Method)
}

func TestCourseRepositoryDecodesBackendRecordShape(t *testing.T) {
	lister := &listerStub{items: []string{
		`{"id":"c1","created":"2024-02-01 08:00:00.000Z","updated":"2024-02-02 08:00:00.000Z","grade":"10","lessonNum":2,` +
			`"dates":["2024-03-04"],"method":"","note":null,"situations":[{"teacher":"李老师","room":"201","groups":["A"]}],` +
			`"info":{"name":"数学","code":null,"bgc":"#fff"}}`,
		`{"id":"c2","grade":"10","lessonNum":0,"dates":["2024-03-04"],"info":{"name":"No slot","bgc":"#000"}}`,
	}}
	repo := NewCourseRepository(lister, "course", nil)

	sessions, err := repo.FetchCatalog(context.Background())
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "数学", sessions[0].Name)
	assert.Equal(t, 2, sessions[0].LessonSlot)
	assert.Equal(t, "#fff", sessions[0].Color)
	assert.Equal(t, []string{"A"}, sessions[0].Situations[0].Groups)
}

func TestCourseRepositoryFetchCatalogError(t *testing.T) {
	repo := NewCourseRepository(&listerStub{err: errors.New("502")}, "course", nil)
	_, err := repo.FetchCatalog(context.Background())
	require.Error(t, err)
}
