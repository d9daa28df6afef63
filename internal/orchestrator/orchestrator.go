// Package orchestrator ties classification, routing, execution, merging,
// caching, and learning into the single request pipeline.
package orchestrator

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/modelmesh/internal/cache"
	"github.com/sells-group/modelmesh/internal/classifier"
	"github.com/sells-group/modelmesh/internal/executor"
	"github.com/sells-group/modelmesh/internal/feedback"
	"github.com/sells-group/modelmesh/internal/learning"
	"github.com/sells-group/modelmesh/internal/merger"
	"github.com/sells-group/modelmesh/internal/model"
	"github.com/sells-group/modelmesh/internal/report"
	"github.com/sells-group/modelmesh/internal/router"
	"github.com/sells-group/modelmesh/internal/storage"
)

// Config tunes the orchestrator itself; component configs ride along.
type Config struct {
	Classifier classifier.Config
	Router     router.Config
	Executor   executor.Config
	Merger     merger.Config
	Cache      cache.Config
	Learning   learning.Config
	Feedback   feedback.Config
	// MaxConcurrentRequests bounds SubmitBatch fan-out. Default: 4.
	MaxConcurrentRequests int
}

// DefaultConfig returns standard orchestrator tuning.
func DefaultConfig() Config {
	return Config{
		Classifier:            classifier.DefaultConfig(),
		Router:                router.DefaultConfig(),
		Executor:              executor.DefaultConfig(),
		Merger:                merger.DefaultConfig(),
		Cache:                 cache.DefaultConfig(),
		Learning:              learning.DefaultConfig(),
		Feedback:              feedback.DefaultConfig(),
		MaxConcurrentRequests: 4,
	}
}

// SubmitResult carries the merged answer plus the per-model responses and
// the routing decision that produced them.
type SubmitResult struct {
	Result    model.MergedResult        `json:"result"`
	Responses map[string]model.Response `json:"responses"`
	Decision  model.RoutingDecision     `json:"decision"`
	TaskType  model.TaskType            `json:"task_type"`
	FromCache bool                      `json:"from_cache"`
	Elapsed   time.Duration             `json:"elapsed"`
}

// Orchestrator is the façade over the whole pipeline. Safe for concurrent
// use.
type Orchestrator struct {
	cfg        Config
	registry   *router.Registry
	classifier *classifier.Classifier
	router     *router.Router
	executor   *executor.Executor
	merger     *merger.Merger
	cache      *cache.Cache
	engine     *learning.Engine
	feedback   *feedback.Loop
	store      storage.HistoryStore
	collector  *report.Collector
	invoke     model.InvokeFunc
}

// New wires the pipeline. The invoke function is the caller-supplied
// transport boundary; a nil invoke is tolerated here and rejected per
// request so read-only operations still work.
func New(cfg Config, store storage.HistoryStore, registry *router.Registry, invoke model.InvokeFunc) *Orchestrator {
	if cfg.MaxConcurrentRequests <= 0 {
		cfg.MaxConcurrentRequests = 4
	}

	engine := learning.New(cfg.Learning, store)
	resultCache := cache.New(cfg.Cache)
	resultCache.StartSweeper()

	return &Orchestrator{
		cfg:        cfg,
		registry:   registry,
		classifier: classifier.New(cfg.Classifier),
		router:     router.New(cfg.Router, registry, engine),
		executor:   executor.New(cfg.Executor),
		merger:     merger.New(cfg.Merger),
		cache:      resultCache,
		engine:     engine,
		feedback:   feedback.New(cfg.Feedback, engine),
		store:      store,
		collector:  report.NewCollector(engine, store, resultCache),
		invoke:     invoke,
	}
}

// Submit runs one request through the full pipeline.
func (o *Orchestrator) Submit(ctx context.Context, req model.Request) (*SubmitResult, error) {
	start := time.Now()

	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "orchestrator: context done before submit")
	}
	if o.invoke == nil {
		return nil, executor.ErrNoInvokeFunc
	}

	// Classification fills in the task type unless the caller pinned one.
	taskType := req.TaskType
	var classification classifier.Result
	if taskType == "" {
		classification = o.classifier.Classify(req.Prompt, req.Context)
		taskType = classification.TaskType
	} else {
		classification = classifier.Result{TaskType: taskType, Confidence: 1}
	}
	req.TaskType = taskType

	key := cache.Fingerprint(req)
	if cached, ok := o.cache.Get(key); ok {
		zap.L().Debug("orchestrator: cache hit", zap.String("request_id", req.ID))
		return &SubmitResult{
			Result:    cached,
			TaskType:  taskType,
			FromCache: true,
			Elapsed:   time.Since(start),
		}, nil
	}

	decision := o.router.SelectModels(taskType, req.QualityThreshold, req.CostLimit, "")
	if len(decision.Models) == 0 {
		return nil, eris.Errorf("orchestrator: no models available: %s", decision.Reason)
	}

	models := make([]model.Model, 0, len(decision.Models))
	for _, name := range decision.Models {
		if m, ok := o.registry.Get(name); ok {
			models = append(models, m)
		}
	}

	responses, execErr := o.execute(ctx, req, models, classification, decision)
	if execErr != nil && !eris.Is(execErr, executor.ErrAllModelsFailed) {
		return nil, execErr
	}

	result := o.merger.Merge(responses, decision.Confidence, taskType)

	// Every completed invocation is evidence, success or not.
	for _, resp := range responses {
		rec, err := model.NewPerformanceRecord(resp.ModelName, taskType, resp.Success,
			resp.ResponseTime, resp.Cost, resp.TokenCount, req.ID)
		if err != nil {
			zap.L().Warn("orchestrator: dropping invalid record", zap.Error(err))
			continue
		}
		o.engine.RecordPerformance(ctx, *rec)
	}

	// Any merge that produced data is cacheable; the review flag is a
	// quality signal for the caller, not a cache veto.
	if len(result.ContributingModels) > 0 {
		o.cache.Put(key, taskType, result)
	}

	zap.L().Info("orchestrator: request complete",
		zap.String("request_id", req.ID),
		zap.String("task_type", string(taskType)),
		zap.Strings("models", decision.Models),
		zap.Bool("flagged", result.FlaggedForReview),
		zap.Duration("elapsed", time.Since(start)),
	)

	return &SubmitResult{
		Result:    result,
		Responses: responses,
		Decision:  decision,
		TaskType:  taskType,
		Elapsed:   time.Since(start),
	}, nil
}

// execute picks the execution mode for the resolved strategy: single-model
// strategies run plainly, fan-out strategies return early once enough
// successes arrive.
func (o *Orchestrator) execute(ctx context.Context, req model.Request, models []model.Model, classification classifier.Result, decision model.RoutingDecision) (map[string]model.Response, error) {
	if len(models) == 1 || decision.Strategy == model.StrategySingleFastest {
		return o.executor.Execute(ctx, req, models, o.invoke)
	}

	minResponses := 2
	if !o.classifier.ShouldUseMultipleModels(classification) {
		minResponses = 1
	}
	if minResponses > len(models) {
		minResponses = len(models)
	}
	return o.executor.ExecuteWithEarlyReturn(ctx, req, models, o.invoke, minResponses)
}

// SubmitBatch runs requests with bounded concurrency. Per-request failures
// land in the result slots; the first hard error cancels the batch.
func (o *Orchestrator) SubmitBatch(ctx context.Context, reqs []model.Request) ([]*SubmitResult, error) {
	results := make([]*SubmitResult, len(reqs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.MaxConcurrentRequests)
	for i, req := range reqs {
		g.Go(func() error {
			res, err := o.Submit(gctx, req)
			if err != nil {
				if eris.Is(err, executor.ErrNoInvokeFunc) {
					return err
				}
				zap.L().Warn("orchestrator: batch request failed",
					zap.String("request_id", req.ID),
					zap.Error(err),
				)
				return nil
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}

// RecordValidation checks a model's answer against ground truth and feeds
// the learning loop.
func (o *Orchestrator) RecordValidation(ctx context.Context, resp model.Response, taskType model.TaskType, actual, groundTruth any) bool {
	return o.feedback.RecordValidation(ctx, resp, taskType, actual, groundTruth)
}

// RecordCorrection registers a user correction and drops cached answers
// the corrected model contributed to.
func (o *Orchestrator) RecordCorrection(ctx context.Context, modelName string, taskType model.TaskType, requestID string, correction feedback.CorrectionType) error {
	if err := o.feedback.RecordUserCorrection(ctx, modelName, taskType, requestID, correction); err != nil {
		return err
	}
	o.cache.InvalidateModel(modelName)
	return nil
}

// UpdateScores recomputes the confidence table from the full log.
func (o *Orchestrator) UpdateScores(ctx context.Context) error {
	return o.engine.UpdateConfidenceScores(ctx)
}

// Report assembles the operational snapshot over the lookback.
func (o *Orchestrator) Report(ctx context.Context, lookback time.Duration) (*report.Report, error) {
	return o.collector.Collect(ctx, lookback)
}

// FeedbackSummary aggregates retained feedback events per model.
func (o *Orchestrator) FeedbackSummary() map[string]feedback.ModelSummary {
	return o.feedback.Summary()
}

// Registry exposes the model registry for CLI management commands.
func (o *Orchestrator) Registry() *router.Registry {
	return o.registry
}

// CacheStats snapshots cache counters.
func (o *Orchestrator) CacheStats() cache.Stats {
	return o.cache.Stats()
}

// InvalidateCache drops cached results: all of them when taskType is
// empty, otherwise only that task type's.
func (o *Orchestrator) InvalidateCache(taskType model.TaskType) int {
	if taskType == "" {
		n := o.cache.Len()
		o.cache.Clear()
		return n
	}
	return o.cache.InvalidateTaskType(taskType)
}

// Cleanup drops performance records older than the retention horizon.
func (o *Orchestrator) Cleanup(ctx context.Context, retention time.Duration) (int, error) {
	return o.store.Cleanup(ctx, retention)
}

// Close stops background work and releases storage.
func (o *Orchestrator) Close() error {
	o.cache.Stop()
	return o.store.Close()
}
