package main

import (
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/modelmesh/internal/config"
	"github.com/sells-group/modelmesh/internal/model"
	"github.com/sells-group/modelmesh/internal/orchestrator"
	"github.com/sells-group/modelmesh/internal/router"
	"github.com/sells-group/modelmesh/internal/storage"
	"github.com/sells-group/modelmesh/pkg/anthropic"
)

// initOrchestrator wires storage, the model registry, and optionally the
// Anthropic transport into a ready orchestrator. Read-only commands pass
// needInvoke=false and skip the API client entirely.
func initOrchestrator(mode string, needInvoke bool) (*orchestrator.Orchestrator, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	var store storage.HistoryStore
	var err error
	switch cfg.Store.Driver {
	case "sqlite":
		store, err = storage.NewSQLite(filepath.Join(cfg.Store.DataDir, "modelmesh.db"))
	default:
		store, err = storage.NewFileStore(cfg.Store.DataDir)
	}
	if err != nil {
		return nil, err
	}

	registry := router.NewRegistry()
	if err := registry.LoadFile(cfg.Models.File); err != nil {
		return nil, err
	}
	if len(registry.All()) == 0 {
		zap.L().Warn("model registry is empty",
			zap.String("file", cfg.Models.File),
		)
	}

	var invoke model.InvokeFunc
	if needInvoke {
		client := anthropic.NewClient(cfg.Anthropic.Key)
		invoke = anthropic.NewInvoker(client, int64(cfg.Anthropic.MaxTokens)).InvokeFunc()
	}

	return orchestrator.New(buildOrchestratorConfig(cfg), store, registry, invoke), nil
}

// buildOrchestratorConfig maps file/env configuration onto the component
// configs, keeping component defaults where nothing was set.
func buildOrchestratorConfig(cfg *config.Config) orchestrator.Config {
	oc := orchestrator.DefaultConfig()

	if tt, ok := model.ParseTaskType(cfg.Classifier.DefaultTaskType); ok {
		oc.Classifier.DefaultTaskType = tt
	}
	oc.Classifier.LowConfidenceThreshold = cfg.Classifier.LowConfidenceThreshold

	oc.Learning.DecayFactor = cfg.Learning.DecayFactor
	oc.Learning.Smoothing = cfg.Learning.Smoothing
	oc.Learning.MinSamplesForFullConfidence = cfg.Learning.MinSamples

	oc.Router.EstimatedTokens = cfg.Router.EstimatedTokens

	oc.Executor.PerModelTimeout = cfg.Executor.PerModelTimeout()
	oc.Executor.MinResponses = cfg.Executor.MinResponses
	oc.Executor.RateLimits = cfg.Executor.RateLimits
	oc.Executor.Retry.MaxAttempts = cfg.Executor.Retry.MaxAttempts
	oc.Executor.Retry.InitialBackoff = time.Duration(cfg.Executor.Retry.InitialBackoffMS) * time.Millisecond
	oc.Executor.Retry.MaxBackoff = time.Duration(cfg.Executor.Retry.MaxBackoffMS) * time.Millisecond
	oc.Executor.Breaker.FailureThreshold = cfg.Executor.Breaker.FailureThreshold
	oc.Executor.Breaker.ResetTimeout = time.Duration(cfg.Executor.Breaker.ResetTimeoutSecs) * time.Second

	oc.Merger.StructuredRatio = cfg.Merger.StructuredRatio
	oc.Merger.LowConfidenceThreshold = cfg.Merger.LowConfidenceThreshold

	oc.Cache.MaxEntries = cfg.Cache.MaxEntries
	oc.Cache.TTL = cfg.Cache.TTL()
	oc.Cache.SweepInterval = cfg.Cache.SweepInterval()

	oc.Feedback.RingSize = cfg.Feedback.RingSize
	oc.Feedback.CorrectionWeight = cfg.Feedback.CorrectionWeight
	oc.Feedback.NumericTolerance = cfg.Feedback.NumericTolerance

	oc.MaxConcurrentRequests = cfg.Batch.MaxConcurrentRequests
	return oc
}
