package classify_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosuda/weave/internal/classify"
)

var knownTypes = []string{"scout", "builder", "reviewer"}

func newClassifier() *classify.Classifier {
	return classify.New(classify.DefaultThresholds(), knownTypes)
}

func TestClassify_Direct(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		task string
	}{
		{"empty input", ""},
		{"whitespace only", "   \n\t "},
		{"trivial one liner", "fix typo in readme"},
		{"garbage input", "\x00\xff{{{]]]"},
		{"simple question", "what does this function do"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			d := newClassifier().Classify(tt.task)

			assert.Equal(t, classify.StrategyDirect, d.Strategy)
			assert.Empty(t, d.Targets)
		})
	}
}

func TestClassify_Decompose(t *testing.T) {
	t.Parallel()

	t.Run("refactor across 3 files", func(t *testing.T) {
		t.Parallel()

		d := newClassifier().Classify("refactor the error handling across 3 files")

		require.Equal(t, classify.StrategyDecompose, d.Strategy)
		assert.Greater(t, d.Score, classify.DefaultThresholds().Low)
		assert.Greater(t, d.Confidence, float64(classify.DefaultThresholds().Low)/100)
		assert.Contains(t, d.Targets, "scout")
		assert.Contains(t, d.Targets, "builder")
	})

	t.Run("cross-cutting feature work", func(t *testing.T) {
		t.Parallel()

		d := newClassifier().Classify(
			"implement the new audit feature across all modules, touching 8 files end-to-end")

		require.Equal(t, classify.StrategyDecompose, d.Strategy)
		assert.Contains(t, d.Targets, "builder")
	})

	t.Run("targets restricted to known types", func(t *testing.T) {
		t.Parallel()

		c := classify.New(classify.DefaultThresholds(), []string{"scout"})
		d := c.Classify("refactor the error handling across 3 files")

		require.Equal(t, classify.StrategyDecompose, d.Strategy)
		assert.Equal(t, []string{"scout"}, d.Targets)
	})
}

func TestClassify_BorderlinePrefersDirect(t *testing.T) {
	t.Parallel()

	// Scores between Low and High must route direct.
	c := classify.New(classify.Thresholds{Low: 10, High: 90}, knownTypes)

	d := c.Classify("refactor the error handling across 3 files")

	assert.Equal(t, classify.StrategyDirect, d.Strategy)
	assert.Greater(t, d.Score, 10)
	assert.Less(t, d.Score, 90)
}

func TestClassify_Deterministic(t *testing.T) {
	t.Parallel()

	c := newClassifier()
	task := "refactor auth across multiple modules in 4 files"

	first := c.Classify(task)
	for range 10 {
		assert.Equal(t, first, c.Classify(task))
	}
}

func TestClassify_Monotonicity(t *testing.T) {
	t.Parallel()

	c := newClassifier()

	// Each case adds one complexity signal on top of the previous task;
	// the score must never decrease.
	tasks := []string{
		"update the readme",
		"fix the login bug",
		"fix the login bug in 2 files",
		"fix the login bug across 2 files",
		"fix and refactor the login flow across 4 files",
		"fix and refactor the login flow across all modules in 8 files",
	}

	prev := -1
	for _, task := range tasks {
		d := c.Classify(task)
		assert.GreaterOrEqual(t, d.Score, prev, "task %q", task)
		prev = d.Score
	}
}
