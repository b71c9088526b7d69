package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/safeguard-ngo/impact-api/internal/dto"
	"github.com/safeguard-ngo/impact-api/internal/models"
	appErrors "github.com/safeguard-ngo/impact-api/pkg/errors"
)

const dashboardCachePrefix = "dashboard:live"

type liveMetricStore interface {
	List(ctx context.Context, filter models.LiveMetricFilter) ([]models.LiveMetric, error)
	Totals(ctx context.Context, filter models.LiveMetricFilter) ([]models.LiveMetricTotal, error)
}

type dashboardCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

// DashboardService aggregates the published-metrics ledger for display:
// per-field totals with growth relative to the previous year. Results are
// cached per filter; the cache is invalidated when a submission is
// published.
type DashboardService struct {
	repo     liveMetricStore
	cache    dashboardCache
	cacheTTL time.Duration
	logger   *zap.Logger
	metrics  *MetricsService
	now      func() time.Time
}

// NewDashboardService constructs the service.
func NewDashboardService(repo liveMetricStore, cache dashboardCache, cacheTTL time.Duration, logger *zap.Logger) *DashboardService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cacheTTL <= 0 {
		cacheTTL = 5 * time.Minute
	}
	return &DashboardService{
		repo:     repo,
		cache:    cache,
		cacheTTL: cacheTTL,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// WithMetrics attaches the Prometheus cache counters.
func (s *DashboardService) WithMetrics(m *MetricsService) *DashboardService {
	s.metrics = m
	return s
}

// LiveMetrics returns the dashboard aggregation for the requested filter.
// When no year is given, the current year is assumed; growth compares
// against the year before the selected one.
func (s *DashboardService) LiveMetrics(ctx context.Context, filter models.LiveMetricFilter) (*dto.DashboardResponse, error) {
	if filter.Year <= 0 {
		filter.Year = s.now().Year()
	}

	key := dashboardCacheKey(filter)
	if s.cache != nil {
		var cached dto.DashboardResponse
		if err := s.cache.Get(ctx, key, &cached); err == nil {
			s.metrics.RecordCacheOperation(true)
			return &cached, nil
		} else if !errors.Is(err, appErrors.ErrCacheMiss) {
			s.logger.Warn("dashboard cache read failed", zap.Error(err))
		}
		s.metrics.RecordCacheOperation(false)
	}

	// One aggregate query spanning both years keeps current and previous
	// totals consistent with each other.
	totalsFilter := filter
	totalsFilter.Year = 0
	totals, err := s.repo.Totals(ctx, totalsFilter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to aggregate live metrics")
	}

	rows, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list live metrics")
	}

	resp := &dto.DashboardResponse{
		Year:       filter.Year,
		Category:   filter.Category,
		Location:   filter.Location,
		Totals:     buildFieldTotals(totals, filter.Year),
		EntryCount: len(rows),
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, resp, s.cacheTTL); err != nil {
			s.logger.Warn("dashboard cache write failed", zap.Error(err))
		}
	}
	return resp, nil
}

// Ledger returns raw published rows for the filter, bypassing the cache.
// Used by the export endpoints.
func (s *DashboardService) Ledger(ctx context.Context, filter models.LiveMetricFilter) ([]models.LiveMetric, error) {
	rows, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list live metrics")
	}
	return rows, nil
}

// buildFieldTotals folds the per-field-per-year aggregates into dashboard
// cards for the selected year. Growth is (current-previous)/previous*100 and
// is omitted when there is no previous-year baseline.
func buildFieldTotals(totals []models.LiveMetricTotal, year int) []dto.FieldTotal {
	current := make(map[string]float64)
	previous := make(map[string]float64)
	order := make([]string, 0, len(totals))
	seen := make(map[string]bool)

	for _, t := range totals {
		switch t.Year {
		case year:
			current[t.Field] = t.Total
			if !seen[t.Field] {
				seen[t.Field] = true
				order = append(order, t.Field)
			}
		case year - 1:
			previous[t.Field] = t.Total
		}
	}

	cards := make([]dto.FieldTotal, 0, len(order))
	for _, field := range order {
		card := dto.FieldTotal{
			Field:         field,
			Total:         current[field],
			PreviousTotal: previous[field],
		}
		if prev, ok := previous[field]; ok && prev != 0 {
			growth := (current[field] - prev) / prev * 100
			card.GrowthPercent = &growth
		}
		cards = append(cards, card)
	}
	return cards
}

func dashboardCacheKey(filter models.LiveMetricFilter) string {
	return fmt.Sprintf("%s:%d:%s:%s:%s", dashboardCachePrefix, filter.Year, filter.Category, filter.Location, filter.Field)
}
