// Package metrics records client-reported performance measurements under
// performance_metrics.
package metrics

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/TheChickenIsOnFire/Openrouter-AI-Chat-Extension/internal/models"
	"github.com/TheChickenIsOnFire/Openrouter-AI-Chat-Extension/internal/storage"
)

const (
	DefaultMaxEntries = 500
	DefaultPerSecond  = 20
	DefaultBurst      = 40
)

var ErrRateLimited = errors.New("metric rate limit exceeded")

type Config struct {
	MaxEntries int
	PerSecond  float64
	Burst      int
}

// Recorder is the single writer of the metrics list.
type Recorder struct {
	storage    storage.Store
	limiter    *rate.Limiter
	maxEntries int

	// Now stamps recorded metrics.
	Now func() time.Time

	mu sync.Mutex
}

func NewRecorder(st storage.Store, cfg Config) *Recorder {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultMaxEntries
	}
	if cfg.PerSecond <= 0 {
		cfg.PerSecond = DefaultPerSecond
	}
	if cfg.Burst <= 0 {
		cfg.Burst = DefaultBurst
	}
	return &Recorder{
		storage:    st,
		limiter:    rate.NewLimiter(rate.Limit(cfg.PerSecond), cfg.Burst),
		maxEntries: cfg.MaxEntries,
		Now:        time.Now,
	}
}

// Track appends metric with a millisecond timestamp, keeping only the most
// recent entries.
func (r *Recorder) Track(ctx context.Context, metric models.Metric) error {
	if metric == nil {
		return errors.New("metric is empty")
	}
	if !r.limiter.Allow() {
		return ErrRateLimited
	}

	entry := make(models.Metric, len(metric)+1)
	for k, v := range metric {
		entry[k] = v
	}
	entry["timestamp"] = r.Now().UnixMilli()

	r.mu.Lock()
	defer r.mu.Unlock()

	var list []models.Metric
	if _, err := r.storage.Get(ctx, storage.Local, storage.KeyMetrics, &list); err != nil {
		return err
	}
	list = append(list, entry)
	if len(list) > r.maxEntries {
		list = list[len(list)-r.maxEntries:]
	}
	return r.storage.Set(ctx, storage.Local, storage.KeyMetrics, list)
}

// List returns the recorded metrics, oldest first.
func (r *Recorder) List(ctx context.Context) ([]models.Metric, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var list []models.Metric
	if _, err := r.storage.Get(ctx, storage.Local, storage.KeyMetrics, &list); err != nil {
		return nil, err
	}
	if list == nil {
		list = []models.Metric{}
	}
	return list, nil
}
