package tasks

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgard/groupmind/internal/database"
	"github.com/edgard/groupmind/internal/ingest"
	"github.com/edgard/groupmind/internal/logger"
	"github.com/edgard/groupmind/internal/summary"
)

type fakeStore struct {
	database.MessageStore
	err   error
	calls int
}

func (f *fakeStore) RunSQLMaintenance(ctx context.Context) error {
	f.calls++
	return f.err
}

type fakeIngester struct {
	results []ingest.Result
	err     error
}

func (f *fakeIngester) IngestAll(ctx context.Context) ([]ingest.Result, error) {
	return f.results, f.err
}

type fakeSummarizer struct {
	results []summary.Result
	err     error
	calls   int
}

func (f *fakeSummarizer) SummarizeAll(ctx context.Context) ([]summary.Result, error) {
	f.calls++
	return f.results, f.err
}

func TestRegisterAllTasks(t *testing.T) {
	t.Parallel()
	got := RegisterAllTasks(TaskDeps{Logger: logger.Discard(), Store: &fakeStore{}, Ingester: &fakeIngester{}})
	assert.Len(t, got, 3)
	assert.Contains(t, got, SQLMaintenance)
	assert.Contains(t, got, KnowledgeIngest)
	assert.Contains(t, got, GroupSummary)
}

func TestSQLMaintenanceTask(t *testing.T) {
	t.Parallel()

	store := &fakeStore{}
	task := newSQLMaintenanceTask(TaskDeps{Logger: logger.Discard(), Store: store})
	require.NoError(t, task(context.Background()))
	assert.Equal(t, 1, store.calls)

	locked := errors.New("database is locked")
	store.err = locked
	assert.ErrorIs(t, task(context.Background()), locked)
}

func TestKnowledgeIngestTask(t *testing.T) {
	t.Parallel()

	ing := &fakeIngester{results: []ingest.Result{
		{GroupID: "g1", Messages: 10, Topics: 3},
		{GroupID: "g2", Messages: 1, Skipped: true},
	}}
	task := newKnowledgeIngestTask(TaskDeps{Logger: logger.Discard(), Ingester: ing})
	require.NoError(t, task(context.Background()))

	boom := errors.New("group g3: extract topics failed")
	ing.err = boom
	assert.ErrorIs(t, task(context.Background()), boom)
}

func TestGroupSummaryTask(t *testing.T) {
	t.Parallel()

	sum := &fakeSummarizer{results: []summary.Result{
		{GroupID: "g1", Messages: 12, PostedID: "bot-7"},
		{GroupID: "g2", Messages: 2, Skipped: true},
	}}
	task := newGroupSummaryTask(TaskDeps{Logger: logger.Discard(), Summarizer: sum})
	require.NoError(t, task(context.Background()))
	assert.Equal(t, 1, sum.calls)

	boom := errors.New("group g3: post summary: send failed")
	sum.err = boom
	assert.ErrorIs(t, task(context.Background()), boom)

	unset := newGroupSummaryTask(TaskDeps{Logger: logger.Discard()})
	assert.NoError(t, unset(context.Background()))
}
