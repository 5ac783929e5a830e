package bench

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/secgraph/secgraph/internal/config"
	"github.com/secgraph/secgraph/internal/graph"
)

func smallBenchConfig() config.BenchConfig {
	return config.BenchConfig{
		Iterations:      5,
		Seed:            7,
		Services:        20,
		Findings:        100,
		Controls:        10,
		Threats:         6,
		MaxDepth:        2,
		SimpleQueryP95:  time.Second,
		MultiHopP95:     time.Second,
		MinFindingsPerS: 1,
	}
}

func TestPercentile(t *testing.T) {
	samples := []time.Duration{
		5 * time.Millisecond,
		1 * time.Millisecond,
		3 * time.Millisecond,
		2 * time.Millisecond,
		4 * time.Millisecond,
	}

	assert.Equal(t, 3*time.Millisecond, Percentile(samples, 50))
	assert.Equal(t, 5*time.Millisecond, Percentile(samples, 95))
	assert.Equal(t, 5*time.Millisecond, Percentile(samples, 99))
	assert.Equal(t, time.Duration(0), Percentile(nil, 95))

	// input order is preserved
	assert.Equal(t, 5*time.Millisecond, samples[0])
}

func TestGenerateFixtureIsDeterministic(t *testing.T) {
	cfg := smallBenchConfig()

	a := GenerateFixture(cfg)
	b := GenerateFixture(cfg)

	// envelope ids differ per run; the generated populations must not
	assert.Equal(t, a.CWEIDs, b.CWEIDs)
	assert.Equal(t, a.CVEIDs, b.CVEIDs)
	assert.Equal(t, a.ControlIDs, b.ControlIDs)
	assert.Equal(t, a.Inventory.StructuredData, b.Inventory.StructuredData)
	assert.Equal(t, a.Framework.StructuredData, b.Framework.StructuredData)
	assert.Equal(t, a.Threats.StructuredData, b.Threats.StructuredData)
	require.Equal(t, len(a.Findings), len(b.Findings))
	for i := range a.Findings {
		assert.Equal(t, a.Findings[i].StructuredData, b.Findings[i].StructuredData)
	}
}

func TestHarnessRun(t *testing.T) {
	cfg := config.Default()
	cfg.Bench = smallBenchConfig()

	h := New(graph.NewMemoryStore(), *cfg, zap.NewNop())
	report, err := h.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 100, report.Throughput.Findings)
	assert.Greater(t, report.Throughput.FindingsPerS, 0.0)
	require.Len(t, report.Stages, 4)
	for _, stage := range report.Stages {
		assert.Equal(t, 5, stage.Samples)
		assert.GreaterOrEqual(t, stage.P95, stage.P50)
		assert.GreaterOrEqual(t, stage.P99, stage.P95)
	}
	assert.Empty(t, report.Regressed())
}

func TestReportRegressedNamesStages(t *testing.T) {
	report := &Report{
		Throughput: ThroughputResult{OverBudget: true},
		Stages: []StageResult{
			{Stage: "mitigating-controls", OverBudget: false},
			{Stage: "blast-radius", OverBudget: true},
		},
	}

	assert.Equal(t, []string{"load", "blast-radius"}, report.Regressed())
}
