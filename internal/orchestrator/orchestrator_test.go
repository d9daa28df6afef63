package orchestrator

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/modelmesh/internal/executor"
	"github.com/sells-group/modelmesh/internal/feedback"
	"github.com/sells-group/modelmesh/internal/model"
	"github.com/sells-group/modelmesh/internal/router"
	"github.com/sells-group/modelmesh/internal/storage"
)

func testRegistry(t *testing.T) *router.Registry {
	t.Helper()
	reg := router.NewRegistry()
	models := []model.Model{
		{Name: "cheap", Provider: "anthropic", CostPerMTok: 1.0, AvgLatency: 100 * time.Millisecond, Enabled: true},
		{Name: "mid", Provider: "anthropic", CostPerMTok: 3.0, AvgLatency: 200 * time.Millisecond, Enabled: true},
		{Name: "premium", Provider: "anthropic", CostPerMTok: 15.0, AvgLatency: 400 * time.Millisecond, Enabled: true},
	}
	for _, m := range models {
		require.NoError(t, reg.Register(m))
	}
	return reg
}

func echoInvoke(calls *atomic.Int64) model.InvokeFunc {
	return func(_ context.Context, m model.Model, req model.Request) (model.Response, error) {
		if calls != nil {
			calls.Add(1)
		}
		return model.Response{
			ModelName:    m.Name,
			Content:      "answer to: " + req.Prompt,
			ResponseTime: 10 * time.Millisecond,
			TokenCount:   100,
			Cost:         0.0001,
			Success:      true,
			Timestamp:    time.Now().UTC(),
		}, nil
	}
}

func newTestOrchestrator(t *testing.T, invoke model.InvokeFunc) *Orchestrator {
	t.Helper()
	store, err := storage.NewFileStore(t.TempDir())
	require.NoError(t, err)

	o := New(DefaultConfig(), store, testRegistry(t), invoke)
	t.Cleanup(func() { o.Close() })
	return o
}

func TestSubmit_EndToEnd(t *testing.T) {
	o := newTestOrchestrator(t, echoInvoke(nil))

	req, err := model.NewRequest("", "What is the capital of France?")
	require.NoError(t, err)

	res, err := o.Submit(context.Background(), *req)
	require.NoError(t, err)

	assert.False(t, res.FromCache)
	assert.NotEmpty(t, res.Decision.Models)
	assert.Equal(t, model.TaskSimpleQuery, res.TaskType)
	assert.NotNil(t, res.Result.Data)
}

func TestSubmit_NilInvokeIsHardError(t *testing.T) {
	o := newTestOrchestrator(t, nil)

	req, err := model.NewRequest("", "anything")
	require.NoError(t, err)

	_, err = o.Submit(context.Background(), *req)
	assert.ErrorIs(t, err, executor.ErrNoInvokeFunc)
}

func TestSubmit_SecondIdenticalRequestHitsCache(t *testing.T) {
	var calls atomic.Int64
	o := newTestOrchestrator(t, echoInvoke(&calls))

	req, err := model.NewRequest("", "what is 2+2")
	require.NoError(t, err)

	first, err := o.Submit(context.Background(), *req)
	require.NoError(t, err)
	require.False(t, first.FromCache)
	// One contributing model flags the result, but a successful merge is
	// cached regardless.
	require.True(t, first.Result.FlaggedForReview)
	afterFirst := calls.Load()

	// Same prompt modulo whitespace shares the fingerprint.
	req2, err := model.NewRequest("", "what  is 2+2")
	require.NoError(t, err)
	second, err := o.Submit(context.Background(), *req2)
	require.NoError(t, err)

	assert.True(t, second.FromCache)
	assert.Equal(t, afterFirst, calls.Load(), "cache hit must not invoke models")
	assert.Equal(t, first.Result.Data, second.Result.Data)
}

func TestSubmit_EmptyMergeIsNotCached(t *testing.T) {
	failing := func(_ context.Context, m model.Model, _ model.Request) (model.Response, error) {
		return model.Response{}, errors.New("invalid api key")
	}
	o := newTestOrchestrator(t, failing)

	req, err := model.NewRequest("", "validate this listing data please")
	require.NoError(t, err)

	res, err := o.Submit(context.Background(), *req)
	require.NoError(t, err, "total model failure still yields a flagged result")
	assert.True(t, res.Result.FlaggedForReview)
	assert.Empty(t, res.Result.ContributingModels)

	res2, err := o.Submit(context.Background(), *req)
	require.NoError(t, err)
	assert.False(t, res2.FromCache, "a merge with no data must not be served from cache")
}

func TestSubmit_PinnedTaskTypeSkipsClassification(t *testing.T) {
	o := newTestOrchestrator(t, echoInvoke(nil))

	req, err := model.NewRequest("", "free-form text", model.WithTaskType(model.TaskPriceExtraction))
	require.NoError(t, err)

	res, err := o.Submit(context.Background(), *req)
	require.NoError(t, err)
	assert.Equal(t, model.TaskPriceExtraction, res.TaskType)
}

func TestSubmit_RecordsPerformance(t *testing.T) {
	o := newTestOrchestrator(t, echoInvoke(nil))

	req, err := model.NewRequest("req-42", "compare and analyze the tradeoffs between the architectures")
	require.NoError(t, err)

	_, err = o.Submit(context.Background(), *req)
	require.NoError(t, err)

	rep, err := o.Report(context.Background(), time.Hour)
	require.NoError(t, err)
	assert.NotEmpty(t, rep.Performance, "completed invocations must land in the log")
}

func TestSubmitBatch_BoundedAndComplete(t *testing.T) {
	var calls atomic.Int64
	o := newTestOrchestrator(t, echoInvoke(&calls))

	reqs := make([]model.Request, 6)
	for i := range reqs {
		req, err := model.NewRequest("", "prompt number "+string(rune('a'+i)))
		require.NoError(t, err)
		reqs[i] = *req
	}

	results, err := o.SubmitBatch(context.Background(), reqs)
	require.NoError(t, err)
	require.Len(t, results, 6)
	for i, res := range results {
		assert.NotNil(t, res, "request %d must have a result", i)
	}
}

func TestRecordCorrection_InvalidatesContributedCache(t *testing.T) {
	o := newTestOrchestrator(t, echoInvoke(nil))

	req, err := model.NewRequest("", "what is the answer")
	require.NoError(t, err)
	res, err := o.Submit(context.Background(), *req)
	require.NoError(t, err)
	require.NotEmpty(t, res.Result.ContributingModels)

	corrected := res.Result.ContributingModels[0]
	require.NoError(t, o.RecordCorrection(context.Background(), corrected,
		res.TaskType, "req-1", feedback.CorrectionWrongValue))

	res2, err := o.Submit(context.Background(), *req)
	require.NoError(t, err)
	assert.False(t, res2.FromCache, "correction must drop cached answers the model produced")
}

func TestRecordValidation_AdjustsScores(t *testing.T) {
	o := newTestOrchestrator(t, echoInvoke(nil))

	resp := model.Response{
		ModelName:    "cheap",
		Content:      "2.5",
		ResponseTime: 10 * time.Millisecond,
		Success:      true,
		Timestamp:    time.Now().UTC(),
	}

	ok := o.RecordValidation(context.Background(), resp, model.TaskPriceExtraction, "2.5", 2.5)
	assert.True(t, ok)

	summary := o.FeedbackSummary()
	assert.Equal(t, 1, summary["cheap"].Validations)
}

func TestInvalidateCache(t *testing.T) {
	o := newTestOrchestrator(t, echoInvoke(nil))

	req, err := model.NewRequest("", "cache me")
	require.NoError(t, err)
	_, err = o.Submit(context.Background(), *req)
	require.NoError(t, err)

	removed := o.InvalidateCache("")
	assert.Equal(t, 1, removed)

	res, err := o.Submit(context.Background(), *req)
	require.NoError(t, err)
	assert.False(t, res.FromCache)
}
