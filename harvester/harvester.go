// Package harvester walks a paginated places search and enriches every result
// with a per-place detail lookup.
package harvester

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aluiziolira/go-harvest-places/config"
	"github.com/aluiziolira/go-harvest-places/models"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
)

// Provider is the external directory API.
type Provider interface {
	Search(ctx context.Context, query models.SearchQuery, pageToken string) (*models.Page, error)
	Detail(ctx context.Context, externalID string) (models.DetailInfo, error)
}

// Harvester produces a flat, ordered list of station records for a query.
// It holds no state between Harvest calls.
type Harvester struct {
	provider   Provider
	pacer      Pacer
	retry      RetryPolicy
	logger     *slog.Logger
	maxPages   int
	dedupeSize int
	Metrics    *Metrics
}

// Option customises a Harvester.
type Option func(*Harvester)

// WithPacer replaces the default sleep pacer.
func WithPacer(p Pacer) Option {
	return func(h *Harvester) { h.pacer = p }
}

// WithRetryPolicy replaces the default NoRetry policy.
func WithRetryPolicy(r RetryPolicy) Option {
	return func(h *Harvester) { h.retry = r }
}

func WithMetrics(m *Metrics) Option {
	return func(h *Harvester) { h.Metrics = m }
}

func WithLogger(l *slog.Logger) Option {
	return func(h *Harvester) { h.logger = l }
}

// WithMaxPages stops pagination after n pages; 0 means no limit.
func WithMaxPages(n int) Option {
	return func(h *Harvester) { h.maxPages = n }
}

// WithDedupe skips results whose external id was already seen in the same run,
// remembering up to size ids.
func WithDedupe(size int) Option {
	return func(h *Harvester) { h.dedupeSize = size }
}

// New builds a harvester around provider. Without options it waits 200ms
// between details and 2s between pages, and never retries.
func New(provider Provider, opts ...Option) *Harvester {
	h := &Harvester{
		provider: provider,
		pacer:    SleepPacer{Details: 200 * time.Millisecond, Pages: 2 * time.Second},
		retry:    NoRetry,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// NewHarvester wires a PlacesClient, pacing, retries and metrics from cfg.
func NewHarvester(cfg *config.Config) (*Harvester, error) {
	metrics := NewMetrics()
	client, err := NewPlacesClient(cfg, metrics)
	if err != nil {
		return nil, err
	}

	opts := []Option{
		WithMetrics(metrics),
		WithPacer(NewSleepPacer(cfg)),
		WithRetryPolicy(NewRetryPolicy(cfg)),
		WithMaxPages(cfg.MaxPages),
	}
	if cfg.Dedupe {
		opts = append(opts, WithDedupe(cfg.DedupeMaxSize))
	}
	return New(client, opts...), nil
}

// Harvest walks every search page for query, looking up details for each
// result in page order. On failure the records merged so far are returned
// along with the error and State is StateFailed.
func (h *Harvester) Harvest(ctx context.Context, query models.SearchQuery) (*models.HarvestResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	result := &models.HarvestResult{
		RunID:     uuid.NewString(),
		Query:     query,
		State:     models.StateStart,
		StartTime: time.Now(),
	}
	logger := h.logger.With(slog.String("run_id", result.RunID))

	if err := query.Validate(); err != nil {
		return h.fail(logger, result, fmt.Errorf("invalid query: %w", err))
	}

	var seen *lru.Cache[string, struct{}]
	if h.dedupeSize > 0 {
		cache, err := lru.New[string, struct{}](h.dedupeSize)
		if err != nil {
			return h.fail(logger, result, fmt.Errorf("create dedupe cache: %w", err))
		}
		seen = cache
	}

	logger.Info("starting harvest",
		slog.Float64("lat", query.Lat()),
		slog.Float64("lng", query.Lng()),
		slog.Int("radius_m", query.RadiusMeters),
		slog.String("category", query.Category),
	)

	token := ""
	for {
		result.State = models.StateFetchingPage

		page, err := h.searchPage(ctx, result, query, token)
		if err != nil {
			return h.fail(logger, result, fmt.Errorf("search page %d: %w", result.Pages+1, err))
		}
		result.Pages++
		h.Metrics.IncPages()
		logger.Debug("page fetched",
			slog.Int("page", result.Pages),
			slog.Int("results", len(page.Results)),
			slog.Bool("has_more", page.HasMore()),
		)

		for _, raw := range page.Results {
			if seen != nil {
				if seen.Contains(raw.ExternalID) {
					result.Duplicates++
					continue
				}
				seen.Add(raw.ExternalID, struct{}{})
			}

			if d := query.DistanceMeters(raw.Lat, raw.Lng); d > float64(query.RadiusMeters) {
				// Providers rank by prominence and may return places past the radius.
				result.OutsideRadius++
				logger.Debug("result outside radius",
					slog.String("place_id", raw.ExternalID),
					slog.Float64("distance_m", d),
				)
			}

			detail, err := h.fetchDetail(ctx, result, raw.ExternalID)
			if err != nil {
				return h.fail(logger, result, fmt.Errorf("detail %s: %w", raw.ExternalID, err))
			}
			result.Records = append(result.Records, models.Merge(raw, detail))
			h.Metrics.IncRecords()

			if err := h.pacer.Wait(ctx, BetweenDetails); err != nil {
				return h.fail(logger, result, err)
			}
		}

		if !page.HasMore() {
			break
		}
		if h.maxPages > 0 && result.Pages >= h.maxPages {
			result.Truncated = true
			logger.Warn("page limit reached, continuation token ignored", slog.Int("max_pages", h.maxPages))
			break
		}

		result.State = models.StateHasMore
		token = page.NextPageToken
		if err := h.pacer.Wait(ctx, BetweenPages); err != nil {
			return h.fail(logger, result, err)
		}
	}

	result.State = models.StateDone
	result.EndTime = time.Now()
	logger.Info("harvest complete",
		slog.Int("records", len(result.Records)),
		slog.Int("pages", result.Pages),
		slog.Int("retries", result.Retries),
		slog.Int("duplicates", result.Duplicates),
		slog.Int("outside_radius", result.OutsideRadius),
		slog.Duration("duration", result.EndTime.Sub(result.StartTime)),
	)
	return result, nil
}

// FetchDetail looks up the enrichment fields for a single place.
func (h *Harvester) FetchDetail(ctx context.Context, externalID string) (models.DetailInfo, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	return h.fetchDetail(ctx, &models.HarvestResult{}, externalID)
}

func (h *Harvester) searchPage(ctx context.Context, result *models.HarvestResult, query models.SearchQuery, token string) (*models.Page, error) {
	var page *models.Page
	err := h.call(ctx, result, phaseSearch, func() error {
		result.SearchRequests++
		p, err := h.provider.Search(ctx, query, token)
		if err != nil {
			return err
		}
		if p == nil {
			p = &models.Page{}
		}
		page = p
		return nil
	})
	return page, err
}

func (h *Harvester) fetchDetail(ctx context.Context, result *models.HarvestResult, externalID string) (models.DetailInfo, error) {
	if externalID == "" {
		return models.DetailInfo{}, &SchemaError{Op: phaseDetail, Err: errors.New("empty external id")}
	}

	var info models.DetailInfo
	err := h.call(ctx, result, phaseDetail, func() error {
		result.DetailRequests++
		d, err := h.provider.Detail(ctx, externalID)
		if err != nil {
			return err
		}
		info = d
		return nil
	})
	return info, err
}

// call runs fn, retrying according to the retry policy.
func (h *Harvester) call(ctx context.Context, result *models.HarvestResult, phase string, fn func() error) error {
	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		h.Metrics.IncError(ErrorKind(err))

		delay, retry := h.retry.Backoff(attempt, err)
		if !retry || ctx.Err() != nil {
			return err
		}

		result.Retries++
		h.Metrics.IncRetries()
		h.logger.Warn("retrying provider call",
			slog.String("phase", phase),
			slog.Int("attempt", attempt),
			slog.Duration("backoff", delay),
			slog.String("category", ErrorKind(err)),
			slog.Any("error", err),
		)
		if serr := sleep(ctx, delay); serr != nil {
			return fmt.Errorf("retry aborted after %w: %w", err, serr)
		}
	}
}

func (h *Harvester) fail(logger *slog.Logger, result *models.HarvestResult, err error) (*models.HarvestResult, error) {
	result.State = models.StateFailed
	result.EndTime = time.Now()
	logger.Error("harvest failed",
		slog.Int("records", len(result.Records)),
		slog.Int("pages", result.Pages),
		slog.String("category", ErrorKind(err)),
		slog.Any("error", err),
	)
	return result, err
}
