package prompts

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGet(t *testing.T) {
	body, err := Get("scoring.json", "score-content")
	require.NoError(t, err)
	assert.Contains(t, body, "{{.Content}}")

	_, err = Get("nonexistent.json", "score-content")
	assert.ErrorContains(t, err, "failed to read prompt file")

	_, err = Get("scoring.json", "nonexistent-key")
	assert.ErrorContains(t, err, "not found")
}

func TestRender(t *testing.T) {
	out, err := Render("scoring.json", "score-content", map[string]string{
		"Stage":   "Draft Written",
		"Content": "Some article text",
	})
	require.NoError(t, err)
	assert.Contains(t, out, "Stage: Draft Written")
	assert.Contains(t, out, "Some article text")
	assert.NotContains(t, out, "{{")

	again, err := Render("scoring.json", "score-content", map[string]string{
		"Stage":   "Draft Written",
		"Content": "Some article text",
	})
	require.NoError(t, err)
	assert.Equal(t, out, again)
}

func TestRender_MissingKey(t *testing.T) {
	_, err := Render("scoring.json", "score-content", map[string]string{"Stage": "x"})
	assert.Error(t, err)
}
