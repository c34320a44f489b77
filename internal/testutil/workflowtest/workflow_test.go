package workflowtest

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestCreateSimpleCaptureBatch tests the capture batch creation utility.
func TestCreateSimpleCaptureBatch(t *testing.T) {
	batch := CreateSimpleCaptureBatch(3, "https://shop.example.com/")

	assert.Equal(t, 3, batch.BatchSeq)
	require.Len(t, batch.Entries, 2)
	require.NoError(t, batch.Validate())

	var entry struct {
		Request struct {
			URL string `json:"url"`
		} `json:"request"`
		Type string `json:"type"`
	}
	require.NoError(t, json.Unmarshal(batch.Entries[0], &entry))
	assert.Equal(t, "https://shop.example.com/", entry.Request.URL)
	assert.Equal(t, "Document", entry.Type)

	require.NoError(t, json.Unmarshal(batch.Entries[1], &entry))
	assert.Equal(t, "https://shop.example.com/app.js", entry.Request.URL)
	assert.Equal(t, "Script", entry.Type)

	// Empty page URL falls back to a usable default
	fallback := CreateSimpleCaptureBatch(0, "")
	require.NoError(t, fallback.Validate())
}

// TestWorkflowTestOptions tests the option builders.
func TestWorkflowTestOptions(t *testing.T) {
	// Test default options
	opts := DefaultWorkflowOptions()
	assert.False(t, opts.EnableRedis)
	assert.Equal(t, 30*time.Second, opts.JobLease)
	assert.Equal(t, time.Hour, opts.BatchDedupeTTL)

	// Test Redis options
	redisOpts := RedisWorkflowOptions()
	assert.True(t, redisOpts.EnableRedis)
	assert.Equal(t, 30*time.Second, redisOpts.JobLease)
	assert.Equal(t, time.Hour, redisOpts.BatchDedupeTTL)
}
