package numinfo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Titusvirous/ToxicInfoBot/internal/cache"
	"github.com/Titusvirous/ToxicInfoBot/internal/metrics"
)

const (
	defaultBaseURL = "https://numinfoapi.vercel.app/api/num"
	defaultTimeout = 15 * time.Second
	maxBodyBytes   = 1 << 20
)

var (
	// ErrNoData means the API answered but returned no usable records.
	ErrNoData = errors.New("numinfo: no data")
	// ErrUnavailable means the API could not be reached or failed.
	ErrUnavailable = errors.New("numinfo: unavailable")
)

// Record is one subscriber entry returned for a number.
type Record struct {
	Name       string `json:"name"`
	FatherName string `json:"fname"`
	Mobile     string `json:"mobile"`
	Address    string `json:"address"`
	Circle     string `json:"circle"`
}

// UnmarshalJSON accepts string or numeric values and a few alternate keys.
func (r *Record) UnmarshalJSON(data []byte) error {
	raw := make(map[string]json.RawMessage)
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	r.Name = readStringRaw(raw, "name")
	r.FatherName = readStringRaw(raw, "fname", "father_name", "fatherName")
	r.Mobile = readStringRaw(raw, "mobile", "number", "phone")
	r.Address = readStringRaw(raw, "address")
	r.Circle = readStringRaw(raw, "circle", "operator")
	return nil
}

func (r Record) empty() bool {
	return r.Name == "" && r.FatherName == "" && r.Mobile == "" && r.Address == "" && r.Circle == ""
}

// Config holds lookup client settings.
type Config struct {
	BaseURL  string
	Timeout  time.Duration
	CacheTTL time.Duration
}

// Client calls the number information API.
type Client struct {
	logger   *slog.Logger
	baseURL  string
	timeout  time.Duration
	http     *http.Client
	metrics  *metrics.Metrics
	cache    *cache.Redis
	cacheTTL time.Duration
}

// New creates a lookup client. redis may be nil to disable result caching.
func New(cfg Config, logger *slog.Logger, m *metrics.Metrics, redis *cache.Redis) *Client {
	base := strings.TrimSpace(cfg.BaseURL)
	if base == "" {
		base = defaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		logger:   logger.With("component", "numinfo"),
		baseURL:  base,
		timeout:  timeout,
		http:     &http.Client{Timeout: timeout},
		metrics:  m,
		cache:    redis,
		cacheTTL: cfg.CacheTTL,
	}
}

// Lookup returns the records for number in API order. Transport failures
// wrap ErrUnavailable; empty or malformed answers wrap ErrNoData.
func (c *Client) Lookup(ctx context.Context, number string) ([]Record, error) {
	cacheKey := "numinfo:" + number
	if c.cache != nil && c.cacheTTL > 0 {
		var cached []Record
		ok, err := c.cache.GetJSON(ctx, cacheKey, &cached)
		if err != nil {
			c.logger.Warn("read lookup cache failed", "error", err)
		} else if ok && len(cached) > 0 {
			c.observe("cache_hit", 0)
			return cached, nil
		}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	body, err := c.get(ctx, number)
	if err != nil {
		c.observe("error", time.Since(start))
		return nil, err
	}

	records, err := parseRecords(body)
	if err != nil {
		c.observe("no_data", time.Since(start))
		c.logger.Debug("lookup returned no records", "error", err)
		return nil, err
	}
	c.observe("ok", time.Since(start))

	if c.cache != nil && c.cacheTTL > 0 {
		if err := c.cache.SetJSON(ctx, cacheKey, records, c.cacheTTL); err != nil {
			c.logger.Warn("set lookup cache failed", "error", err)
		}
	}
	return records, nil
}

func (c *Client) get(ctx context.Context, number string) ([]byte, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: base url: %v", ErrUnavailable, err)
	}
	q := u.Query()
	q.Set("number", number)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: new request: %v", ErrUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "infobot/numinfo-client")

	res, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrUnavailable, err)
	}
	if res.StatusCode >= 400 {
		snippet := strings.TrimSpace(string(body))
		if len(snippet) > 200 {
			snippet = snippet[:200]
		}
		return nil, fmt.Errorf("%w: status=%d body=%s", ErrUnavailable, res.StatusCode, snippet)
	}
	return body, nil
}

// parseRecords accepts a bare array or an object wrapping one under "data".
func parseRecords(body []byte) ([]Record, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, fmt.Errorf("%w: empty body", ErrNoData)
	}

	var payload json.RawMessage = body
	if body[0] == '{' {
		var env struct {
			Data json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(body, &env); err != nil || len(env.Data) == 0 {
			return nil, fmt.Errorf("%w: unexpected object", ErrNoData)
		}
		payload = env.Data
	}

	var records []Record
	if err := json.Unmarshal(payload, &records); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrNoData, err)
	}
	out := records[:0]
	for _, r := range records {
		if !r.empty() {
			out = append(out, r)
		}
	}
	if len(out) == 0 {
		return nil, ErrNoData
	}
	return out, nil
}

func (c *Client) observe(status string, d time.Duration) {
	if c.metrics == nil {
		return
	}
	c.metrics.LookupRequests.WithLabelValues(status).Inc()
	if d > 0 {
		c.metrics.LookupLatency.WithLabelValues(status).Observe(d.Seconds())
	}
}

func readStringRaw(raw map[string]json.RawMessage, keys ...string) string {
	for _, key := range keys {
		val, ok := raw[key]
		if !ok {
			continue
		}
		var decoded string
		if err := json.Unmarshal(val, &decoded); err == nil {
			if decoded = strings.TrimSpace(decoded); decoded != "" {
				return decoded
			}
			continue
		}
		var number json.Number
		if err := json.Unmarshal(val, &number); err == nil {
			return number.String()
		}
	}
	return ""
}
