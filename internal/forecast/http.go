package forecast

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/time/rate"
)

type HTTPConfig struct {
	BaseURL    string
	Token      string
	Timeout    time.Duration
	RatePerSec float64
	CacheTTL   time.Duration
}

// HTTP fetches forecasts from a JSON endpoint:
//
//	GET {BaseURL}/forecast?zone=NL&from=<RFC3339>&to=<RFC3339>
//	-> {"zone":"NL","samples":[{"time":"...","value":123.4}, ...]}
//
// Every failure is reported as ErrUnavailable so the scheduler falls back
// to cron. Responses are cached per zone for CacheTTL and reused when the
// cached span covers the requested one.
type HTTP struct {
	cfg     HTTPConfig
	client  *http.Client
	limiter *rate.Limiter
	now     func() time.Time

	mu    sync.Mutex
	cache map[string]cachedForecast
}

type cachedForecast struct {
	from, to  time.Time
	fetchedAt time.Time
	fc        Forecast
}

func NewHTTP(cfg HTTPConfig) (*HTTP, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.WithHint(errors.New("forecast: http base url is empty"), "set forecast.http.base_url")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, errors.Wrap(err, "forecast: invalid base url")
	}
	cfg.BaseURL = base
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	lim := rate.NewLimiter(rate.Inf, 1)
	if cfg.RatePerSec > 0 {
		lim = rate.NewLimiter(rate.Limit(cfg.RatePerSec), 1)
	}
	return &HTTP{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: lim,
		now:     time.Now,
		cache:   make(map[string]cachedForecast),
	}, nil
}

func (h *HTTP) Forecast(ctx context.Context, zone string, from, to time.Time) (Forecast, error) {
	if fc, ok := h.cached(zone, from, to); ok {
		return fc, nil
	}
	if err := h.limiter.Wait(ctx); err != nil {
		return Forecast{}, errors.Wrap(ErrUnavailable, err.Error())
	}

	fc, err := h.fetch(ctx, zone, from, to)
	if err != nil {
		return Forecast{}, errors.Mark(err, ErrUnavailable)
	}
	sort.SliceStable(fc.Samples, func(i, j int) bool { return fc.Samples[i].Time.Before(fc.Samples[j].Time) })
	if fc.Zone == "" {
		fc.Zone = zone
	}

	if h.cfg.CacheTTL > 0 {
		h.mu.Lock()
		h.cache[zone] = cachedForecast{from: from, to: to, fetchedAt: h.now(), fc: fc}
		h.mu.Unlock()
	}
	return fc.Window(from, to), nil
}

func (h *HTTP) cached(zone string, from, to time.Time) (Forecast, bool) {
	if h.cfg.CacheTTL <= 0 {
		return Forecast{}, false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.cache[zone]
	if !ok {
		return Forecast{}, false
	}
	if h.now().Sub(c.fetchedAt) > h.cfg.CacheTTL {
		delete(h.cache, zone)
		return Forecast{}, false
	}
	if from.Before(c.from) || to.After(c.to) {
		return Forecast{}, false
	}
	return c.fc.Window(from, to), true
}

func (h *HTTP) fetch(ctx context.Context, zone string, from, to time.Time) (Forecast, error) {
	q := url.Values{}
	q.Set("zone", zone)
	q.Set("from", from.UTC().Format(time.RFC3339))
	q.Set("to", to.UTC().Format(time.RFC3339))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.cfg.BaseURL+"/forecast?"+q.Encode(), nil)
	if err != nil {
		return Forecast{}, errors.Wrap(err, "failed to create request")
	}
	req.Header.Set("Accept", "application/json")
	if h.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+h.cfg.Token)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return Forecast{}, errors.Wrap(err, "failed to send request")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return Forecast{}, errors.Wrap(err, "failed to read response")
	}
	if resp.StatusCode != http.StatusOK {
		return Forecast{}, errors.Newf("forecast request failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var fc Forecast
	if err := json.Unmarshal(body, &fc); err != nil {
		return Forecast{}, errors.Wrap(err, "failed to unmarshal forecast")
	}
	return fc, nil
}
