// Package archive fetches historical weather observations from the
// Open-Meteo archive API.
package archive

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/patrickmn/go-cache"
	"github.com/sony/gobreaker"

	"github.com/lox/wandiforecast/internal/httputil"
	"github.com/lox/wandiforecast/internal/metrics"
	"github.com/lox/wandiforecast/internal/models"
	"github.com/lox/wandiforecast/internal/store"
)

const DefaultBaseURL = "https://archive-api.open-meteo.com/v1/archive"

const (
	defaultMaxRetries      = 5
	defaultInitialInterval = 200 * time.Millisecond
	defaultCacheTTL        = 24 * time.Hour
)

// StatusError is a non-2xx archive response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("archive: status %d: %s", e.StatusCode, e.Body)
}

// Client implements observation fetches with retries, a circuit breaker, an
// in-memory response cache and an optional SQLite payload cache.
type Client struct {
	baseURL         string
	client          *http.Client
	breaker         *gobreaker.CircuitBreaker
	cache           *cache.Cache
	store           *store.Store
	maxRetries      uint64
	initialInterval time.Duration
}

type Option func(*Client)

func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

// WithStore persists raw responses so repeated ranges survive restarts.
func WithStore(s *store.Store) Option {
	return func(c *Client) { c.store = s }
}

// WithRetry sets the retry budget and the first backoff interval.
func WithRetry(maxRetries uint64, initial time.Duration) Option {
	return func(c *Client) {
		c.maxRetries = maxRetries
		c.initialInterval = initial
	}
}

// WithCacheTTL sets how long parsed tables stay in memory. Zero disables
// the in-memory cache.
func WithCacheTTL(ttl time.Duration) Option {
	return func(c *Client) {
		if ttl <= 0 {
			c.cache = nil
			return
		}
		c.cache = cache.New(ttl, 2*ttl)
	}
}

func NewClient(opts ...Option) *Client {
	c := &Client{
		baseURL: DefaultBaseURL,
		client:  httputil.NewClient(),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "openmeteo-archive",
			MaxRequests: 3,
			Interval:    time.Minute,
			Timeout:     30 * time.Second,
		}),
		cache:           cache.New(defaultCacheTTL, 2*defaultCacheTTL),
		maxRetries:      defaultMaxRetries,
		initialInterval: defaultInitialInterval,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// RequestKey identifies a fetch for caching.
func RequestKey(loc models.Location, start, end time.Time, g models.Granularity) string {
	return strings.Join([]string{
		loc.Key(),
		start.Format(models.DateLayout),
		end.Format(models.DateLayout),
		g.Param(),
	}, "|")
}

// Fetch returns the observations for the inclusive date range [start, end]
// with the raw "date" time field. Callers own the returned table.
func (c *Client) Fetch(ctx context.Context, loc models.Location, start, end time.Time, g models.Granularity) (*models.Table, error) {
	if end.Before(start) {
		return nil, models.InvalidRequest("archive range ends %s before it starts %s",
			end.Format(models.DateLayout), start.Format(models.DateLayout))
	}
	key := RequestKey(loc, start, end, g)

	if c.cache != nil {
		if cached, ok := c.cache.Get(key); ok {
			metrics.ArchiveCacheLookups.WithLabelValues("memory", "hit").Inc()
			return cached.(*models.Table).Clone(), nil
		}
		metrics.ArchiveCacheLookups.WithLabelValues("memory", "miss").Inc()
	}

	body, err := c.storedPayload(key)
	if err != nil {
		log.Printf("archive: read cached payload %s: %v", key, err)
	}

	var table *models.Table
	if body != nil {
		table, err = Decode(body, g, models.Features(g).Fields)
		if err != nil {
			log.Printf("archive: cached payload %s unreadable, refetching: %v", key, err)
			body = nil
		}
	}
	if body == nil {
		table, err = c.fetchRemote(ctx, loc, start, end, g, key)
		if err != nil {
			return nil, err
		}
	}

	if c.cache != nil {
		c.cache.Set(key, table, cache.DefaultExpiration)
	}
	return table.Clone(), nil
}

// Recent archive days are provisional and get revised upstream. A stored
// payload ending within ProvisionalDays of its fetch is refetched once it is
// older than ProvisionalMaxAge.
const (
	ProvisionalDays   = 5
	ProvisionalMaxAge = 24 * time.Hour
)

func (c *Client) storedPayload(key string) ([]byte, error) {
	if c.store == nil {
		return nil, nil
	}
	meta, err := c.store.GetArchivePayloadMeta(key)
	if err != nil {
		return nil, err
	}
	if meta == nil {
		metrics.ArchiveCacheLookups.WithLabelValues("sqlite", "miss").Inc()
		return nil, nil
	}
	if stale(meta, time.Now()) {
		log.Printf("archive: stored payload %s ending %s fetched %s is provisional, refetching",
			key, meta.EndDate, meta.FetchedAt.Format(time.RFC3339))
		metrics.ArchiveCacheLookups.WithLabelValues("sqlite", "stale").Inc()
		return nil, nil
	}

	body, err := c.store.GetArchivePayload(key)
	if err != nil {
		return nil, err
	}
	result := "miss"
	if body != nil {
		result = "hit"
	}
	metrics.ArchiveCacheLookups.WithLabelValues("sqlite", result).Inc()
	return body, nil
}

func stale(meta *store.ArchivePayload, now time.Time) bool {
	end, err := time.Parse(models.DateLayout, meta.EndDate)
	if err != nil {
		return true
	}
	provisional := !end.Before(meta.FetchedAt.UTC().Truncate(24*time.Hour).AddDate(0, 0, -ProvisionalDays))
	return provisional && now.Sub(meta.FetchedAt) > ProvisionalMaxAge
}

func (c *Client) fetchRemote(ctx context.Context, loc models.Location, start, end time.Time, g models.Granularity, key string) (*models.Table, error) {
	fields := models.Features(g).Fields
	endpoint := c.endpoint(loc, start, end, g, fields)

	var run *store.FetchRun
	if c.store != nil {
		var err error
		if run, err = c.store.StartFetchRun(key, string(g)); err != nil {
			log.Printf("archive: start fetch run: %v", err)
		}
	}

	body, status, attempts, err := c.get(ctx, endpoint, g)
	var table *models.Table
	if err == nil {
		table, err = Decode(body, g, fields)
	}

	if run != nil {
		run.Attempts = sql.NullInt64{Int64: attempts, Valid: true}
		if status != 0 {
			run.HTTPStatus = sql.NullInt64{Int64: int64(status), Valid: true}
		}
		run.ResponseSizeBytes = sql.NullInt64{Int64: int64(len(body)), Valid: body != nil}
		if err != nil {
			run.ErrorMessage = sql.NullString{String: err.Error(), Valid: true}
		} else {
			run.Success = true
			run.RecordsParsed = sql.NullInt64{Int64: int64(table.Len()), Valid: true}
		}
		if cerr := c.store.CompleteFetchRun(run); cerr != nil {
			log.Printf("archive: complete fetch run: %v", cerr)
		}
	}
	if err != nil {
		return nil, err
	}

	if c.store != nil {
		req := store.ArchiveRequest{Key: key, Location: loc, Start: start, End: end, Granularity: g}
		if err := c.store.PutArchivePayload(req, body); err != nil {
			log.Printf("archive: store payload %s: %v", key, err)
		}
	}
	log.Printf("archive: fetched %d %s rows for %s (%s..%s) in %d attempt(s)",
		table.Len(), g.Param(), loc, start.Format(models.DateLayout), end.Format(models.DateLayout), attempts)
	return table, nil
}

func (c *Client) endpoint(loc models.Location, start, end time.Time, g models.Granularity, fields []string) string {
	q := url.Values{}
	q.Set("latitude", strconv.FormatFloat(loc.Latitude, 'f', -1, 64))
	q.Set("longitude", strconv.FormatFloat(loc.Longitude, 'f', -1, 64))
	q.Set("start_date", start.Format(models.DateLayout))
	q.Set("end_date", end.Format(models.DateLayout))
	q.Set(g.Param(), strings.Join(fields, ","))
	q.Set("timezone", "GMT")
	return c.baseURL + "?" + q.Encode()
}

// get performs the request with retries. Server errors, rate limiting and
// transport failures are retried; other client errors are not.
func (c *Client) get(ctx context.Context, endpoint string, g models.Granularity) ([]byte, int, int64, error) {
	var (
		body     []byte
		status   int
		attempts int64
	)

	operation := func() error {
		attempts++
		started := time.Now()
		result, err := c.breaker.Execute(func() (interface{}, error) {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
			if err != nil {
				return nil, backoff.Permanent(err)
			}
			resp, err := c.client.Do(req)
			if err != nil {
				return nil, err
			}
			defer resp.Body.Close()

			b, err := io.ReadAll(resp.Body)
			if err != nil {
				return nil, fmt.Errorf("read body: %w", err)
			}
			status = resp.StatusCode
			if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
				return nil, &StatusError{StatusCode: resp.StatusCode, Body: truncate(b)}
			}
			return b, nil
		})
		metrics.ArchiveAPILatency.WithLabelValues(g.Param()).Observe(time.Since(started).Seconds())

		if err != nil {
			metrics.ArchiveAPICallsTotal.WithLabelValues(g.Param(), "error").Inc()
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return backoff.Permanent(fmt.Errorf("archive: circuit open: %w", err))
			}
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			log.Printf("archive: attempt %d failed: %v", attempts, err)
			return err
		}

		b := result.([]byte)
		if status < 200 || status >= 300 {
			metrics.ArchiveAPICallsTotal.WithLabelValues(g.Param(), "error").Inc()
			return backoff.Permanent(&StatusError{StatusCode: status, Body: truncate(b)})
		}
		metrics.ArchiveAPICallsTotal.WithLabelValues(g.Param(), "success").Inc()
		body = b
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.initialInterval
	bo.MaxElapsedTime = 2 * time.Minute
	err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(bo, c.maxRetries), ctx))
	if err != nil {
		return nil, status, attempts, fmt.Errorf("fetch archive: %w", err)
	}
	return body, status, attempts, nil
}

func truncate(b []byte) string {
	const max = 256
	s := strings.TrimSpace(string(b))
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
