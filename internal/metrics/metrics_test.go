package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheChickenIsOnFire/Openrouter-AI-Chat-Extension/internal/models"
	"github.com/TheChickenIsOnFire/Openrouter-AI-Chat-Extension/internal/storage/sqlstore"
)

func newRecorder(t *testing.T, cfg Config) *Recorder {
	t.Helper()
	st, err := sqlstore.New("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	r := NewRecorder(st, cfg)
	r.Now = func() time.Time { return time.UnixMilli(1700000000000) }
	return r
}

func TestTrackAppendsWithTimestamp(t *testing.T) {
	r := newRecorder(t, Config{})
	ctx := context.Background()

	require.NoError(t, r.Track(ctx, models.Metric{"name": "render", "ms": 12.5}))
	require.NoError(t, r.Track(ctx, models.Metric{"name": "send"}))

	list, err := r.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "render", list[0]["name"])
	assert.Equal(t, 12.5, list[0]["ms"])
	// JSON numbers decode as float64.
	assert.Equal(t, float64(1700000000000), list[0]["timestamp"])
	assert.Equal(t, "send", list[1]["name"])
}

func TestTrackDoesNotMutateInput(t *testing.T) {
	r := newRecorder(t, Config{})
	m := models.Metric{"name": "x"}
	require.NoError(t, r.Track(context.Background(), m))
	assert.NotContains(t, m, "timestamp")
}

func TestTrackCapsEntries(t *testing.T) {
	r := newRecorder(t, Config{MaxEntries: 3, PerSecond: 1000, Burst: 100})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, r.Track(ctx, models.Metric{"i": i}))
	}
	list, err := r.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, float64(2), list[0]["i"])
	assert.Equal(t, float64(4), list[2]["i"])
}

func TestTrackRateLimited(t *testing.T) {
	r := newRecorder(t, Config{PerSecond: 0.001, Burst: 2})
	ctx := context.Background()

	require.NoError(t, r.Track(ctx, models.Metric{"n": 1}))
	require.NoError(t, r.Track(ctx, models.Metric{"n": 2}))
	assert.ErrorIs(t, r.Track(ctx, models.Metric{"n": 3}), ErrRateLimited)

	list, _ := r.List(ctx)
	assert.Len(t, list, 2)
}

func TestTrackRejectsNil(t *testing.T) {
	r := newRecorder(t, Config{})
	assert.Error(t, r.Track(context.Background(), nil))

	list, err := r.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, list)
}
