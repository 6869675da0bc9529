package embedder

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeuristicEstimator(t *testing.T) {
	h := HeuristicEstimator{}
	assert.Equal(t, 0, h.Estimate(""))
	assert.Equal(t, 1, h.Estimate("a"))
	assert.Equal(t, 1, h.Estimate("abcd"))
	assert.Equal(t, 2, h.Estimate("abcde"))
	assert.Equal(t, 3, HeuristicEstimator{CharsPerToken: 2}.Estimate("abcde"))
}

func TestTiktokenEstimator(t *testing.T) {
	est, err := NewTiktokenEstimator("")
	require.NoError(t, err)

	assert.Equal(t, 0, est.Estimate(""))
	n := est.Estimate("func main() { fmt.Println(\"hello world\") }")
	assert.Greater(t, n, 5)
	assert.Less(t, n, 40)
}

func TestNewEstimator(t *testing.T) {
	e, err := NewEstimator("heuristic")
	require.NoError(t, err)
	assert.IsType(t, HeuristicEstimator{}, e)

	_, err = NewEstimator("sentencepiece")
	assert.ErrorIs(t, err, ErrInvalidInput)
}
