package router

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/modelmesh/internal/model"
)

// stubScores implements ScoreSource from a fixed table.
type stubScores map[model.TaskType]map[string]float64

func (s stubScores) ScoresForTask(taskType model.TaskType) map[string]float64 {
	return s[taskType]
}

func testRegistry(t *testing.T, models ...model.Model) *Registry {
	t.Helper()
	reg := NewRegistry()
	for _, m := range models {
		require.NoError(t, reg.Register(m))
	}
	return reg
}

func mdl(name string, costPerMTok float64, latency time.Duration) model.Model {
	return model.Model{Name: name, Provider: "test", CostPerMTok: costPerMTok, AvgLatency: latency, Enabled: true}
}

func TestSelectModels_EmptyRegistry(t *testing.T) {
	t.Parallel()

	r := New(DefaultConfig(), NewRegistry(), stubScores{})
	dec := r.SelectModels(model.TaskSimpleQuery, 0.7, 0, "")

	assert.Empty(t, dec.Models)
	assert.NotEmpty(t, dec.Reason)
}

// Adaptive strategy with a dominant model picks only that model.
func TestSelectModels_AdaptivePicksDominantModel(t *testing.T) {
	t.Parallel()

	reg := testRegistry(t,
		mdl("qwen", 0.5, 800*time.Millisecond),
		mdl("kimi", 0.3, 600*time.Millisecond),
	)
	scores := stubScores{model.TaskSimpleQuery: {"qwen": 0.92, "kimi": 0.55}}
	r := New(DefaultConfig(), reg, scores)

	dec := r.SelectModels(model.TaskSimpleQuery, 0.7, 0, model.StrategyAdaptive)

	assert.Equal(t, []string{"qwen"}, dec.Models)
	assert.Equal(t, model.StrategyAdaptive, dec.Strategy)
	assert.InDelta(t, 0.92, dec.Confidence["qwen"], 1e-9)
}

func TestSelectModels_AdaptiveWidensWhenUncertain(t *testing.T) {
	t.Parallel()

	reg := testRegistry(t,
		mdl("a", 1, time.Second),
		mdl("b", 2, time.Second),
		mdl("c", 3, time.Second),
		mdl("d", 4, time.Second),
	)
	scores := stubScores{model.TaskSimpleQuery: {"a": 0.4, "b": 0.35, "c": 0.3, "d": 0.2}}
	r := New(DefaultConfig(), reg, scores)

	dec := r.SelectModels(model.TaskSimpleQuery, 0.7, 0, model.StrategyAdaptive)
	assert.Len(t, dec.Models, 3)
}

// With no confidence history, selection falls back to the configured count
// of cheapest models for the task type.
func TestSelectModels_NoHistoryFallsBackToCheapest(t *testing.T) {
	t.Parallel()

	reg := testRegistry(t,
		mdl("pricey", 10, time.Second),
		mdl("cheap", 0.1, time.Second),
		mdl("mid", 1, time.Second),
	)
	r := New(DefaultConfig(), reg, stubScores{})

	dec := r.SelectModels(model.TaskDataValidation, 0.7, 0, "")

	require.Len(t, dec.Models, 2) // validation fallback count
	assert.Equal(t, []string{"cheap", "mid"}, dec.Models)
}

// A cost limit below every model's estimated cost still returns exactly the
// single cheapest model.
func TestSelectModels_CostLimitNeverEmpty(t *testing.T) {
	t.Parallel()

	reg := testRegistry(t,
		mdl("a", 0.1, time.Second),
		mdl("b", 1, time.Second),
		mdl("c", 10, time.Second),
	)
	scores := stubScores{model.TaskPriceExtraction: {"a": 0.7, "b": 0.7, "c": 0.7}}
	r := New(DefaultConfig(), reg, scores)

	// Estimated per-call cost of the cheapest model is 0.1*2000/1e6 = 2e-4.
	dec := r.SelectModels(model.TaskPriceExtraction, 0.7, 1e-7, "")

	require.Len(t, dec.Models, 1)
	assert.Equal(t, "a", dec.Models[0])
}

func TestSelectModels_CostLimitGreedy(t *testing.T) {
	t.Parallel()

	reg := testRegistry(t,
		mdl("a", 0.1, time.Second),
		mdl("b", 1, time.Second),
		mdl("c", 10, time.Second),
	)
	scores := stubScores{model.TaskComplexReasoning: {"a": 0.9, "b": 0.8, "c": 0.7}}
	r := New(DefaultConfig(), reg, scores)

	// triple_consensus wants all three; the budget only fits a and b.
	budget := (0.1 + 1.0) * 2000 / 1e6
	dec := r.SelectModels(model.TaskComplexReasoning, 0.7, budget+1e-9, model.StrategyTripleConsensus)

	assert.ElementsMatch(t, []string{"a", "b"}, dec.Models)
	assert.LessOrEqual(t, dec.EstimatedCost, budget+1e-9)
}

func TestSelectModels_SingleFastestPrefersQualified(t *testing.T) {
	t.Parallel()

	reg := testRegistry(t,
		mdl("slow-good", 1, 2*time.Second),
		mdl("fast-weak", 1, 100*time.Millisecond),
	)
	scores := stubScores{model.TaskSimpleQuery: {"slow-good": 0.9, "fast-weak": 0.4}}
	r := New(DefaultConfig(), reg, scores)

	dec := r.SelectModels(model.TaskSimpleQuery, 0.7, 0, "")
	assert.Equal(t, []string{"slow-good"}, dec.Models)

	// Nobody qualifies: highest confidence overall wins.
	dec = r.SelectModels(model.TaskSimpleQuery, 0.95, 0, "")
	assert.Equal(t, []string{"slow-good"}, dec.Models)
}

func TestSelectModels_SingleFastestTieBreaksOnLatency(t *testing.T) {
	t.Parallel()

	reg := testRegistry(t,
		mdl("tortoise", 1, 2*time.Second),
		mdl("hare", 1, 100*time.Millisecond),
	)
	scores := stubScores{model.TaskSimpleQuery: {"tortoise": 0.8, "hare": 0.8}}
	r := New(DefaultConfig(), reg, scores)

	dec := r.SelectModels(model.TaskSimpleQuery, 0.7, 0, "")
	assert.Equal(t, []string{"hare"}, dec.Models)
}

func TestSelectModels_DisabledModelsExcluded(t *testing.T) {
	t.Parallel()

	disabled := mdl("off", 0.1, time.Second)
	disabled.Enabled = false
	reg := testRegistry(t, disabled, mdl("on", 1, time.Second))
	scores := stubScores{model.TaskSimpleQuery: {"off": 0.99, "on": 0.6}}
	r := New(DefaultConfig(), reg, scores)

	dec := r.SelectModels(model.TaskSimpleQuery, 0.5, 0, "")
	assert.Equal(t, []string{"on"}, dec.Models)
}

func TestSelectModels_DualValidationTopTwo(t *testing.T) {
	t.Parallel()

	reg := testRegistry(t,
		mdl("a", 1, time.Second),
		mdl("b", 1, time.Second),
		mdl("c", 1, time.Second),
	)
	scores := stubScores{model.TaskPriceExtraction: {"a": 0.9, "b": 0.8, "c": 0.3}}
	r := New(DefaultConfig(), reg, scores)

	dec := r.SelectModels(model.TaskPriceExtraction, 0.7, 0, "")
	assert.Equal(t, model.StrategyDualValidation, dec.Strategy)
	assert.ElementsMatch(t, []string{"a", "b"}, dec.Models)
}

func TestRegistry_EnableDisable(t *testing.T) {
	t.Parallel()

	reg := testRegistry(t, mdl("m", 1, time.Second))
	require.NoError(t, reg.SetEnabled("m", false))
	assert.Empty(t, reg.Enabled())
	require.NoError(t, reg.SetEnabled("m", true))
	assert.Len(t, reg.Enabled(), 1)
	assert.Error(t, reg.SetEnabled("ghost", true))
}

func TestRegistry_FileRoundTrip(t *testing.T) {
	t.Parallel()

	path := t.TempDir() + "/models.yaml"
	reg := testRegistry(t, mdl("qwen", 0.5, 800*time.Millisecond), mdl("kimi", 0.3, time.Second))
	require.NoError(t, reg.SaveFile(path))

	loaded := NewRegistry()
	require.NoError(t, loaded.LoadFile(path))
	assert.Len(t, loaded.All(), 2)
	m, ok := loaded.Get("qwen")
	require.True(t, ok)
	assert.Equal(t, 800*time.Millisecond, m.AvgLatency)
}
