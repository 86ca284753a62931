package chartapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/karpovdv/folio/internal/platform/asset"
	"github.com/karpovdv/folio/internal/platform/pricefeed"
	"github.com/karpovdv/folio/pkg/logger"
	"github.com/karpovdv/folio/pkg/money"
)

const (
	defaultBaseURL = "https://query1.finance.yahoo.com"
	defaultTimeout = 30 * time.Second

	// SourceName tags every price point produced by this client
	SourceName = "chartapi"

	// chart responses can be large for multi-year windows; cap reads
	// so a misbehaving endpoint cannot exhaust memory
	maxResponseBytes = 8 << 20
)

// Client fetches daily OHLCV series from a chart-style JSON endpoint
// (GET /v8/finance/chart/{symbol}). It performs exactly one provider
// request per call; pacing and retry policy belong to the callers.
type Client struct {
	baseURL    string
	userAgent  string
	httpClient *http.Client
	logger     *logger.Logger
}

var _ pricefeed.Source = (*Client)(nil)

// NewClient creates a chart API client. Empty baseURL and zero timeout
// fall back to the public endpoint and 30s.
func NewClient(baseURL, userAgent string, timeout time.Duration, log *logger.Logger) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL:   baseURL,
		userAgent: userAgent,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: log.WithField("component", "chartapi"),
	}
}

// SetBaseURL overrides the default base URL (useful for testing)
func (c *Client) SetBaseURL(url string) {
	c.baseURL = url
}

// chartResponse mirrors the provider's envelope. OHLCV arrays run
// parallel to the timestamp array and use pointers because the
// provider emits JSON nulls for halted or missing sessions.
type chartResponse struct {
	Chart struct {
		Result []chartResult `json:"result"`
		Error  *chartError   `json:"error"`
	} `json:"chart"`
}

type chartError struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

type chartResult struct {
	Meta struct {
		Currency           string  `json:"currency"`
		Symbol             string  `json:"symbol"`
		RegularMarketPrice float64 `json:"regularMarketPrice"`
		RegularMarketTime  int64   `json:"regularMarketTime"`
	} `json:"meta"`
	Timestamp  []int64 `json:"timestamp"`
	Indicators struct {
		Quote []struct {
			Open   []*float64 `json:"open"`
			High   []*float64 `json:"high"`
			Low    []*float64 `json:"low"`
			Close  []*float64 `json:"close"`
			Volume []*int64   `json:"volume"`
		} `json:"quote"`
	} `json:"indicators"`
}

// FetchRange retrieves daily bars for the window [from, to]. Window
// bounds are compared by calendar date (UTC), so a bar stamped
// mid-session on the end date still belongs to the window. Invalid
// bars are dropped and counted; zero usable bars is a bad-data error.
func (c *Client) FetchRange(ctx context.Context, symbol string, from, to time.Time) ([]asset.PricePoint, error) {
	if symbol == "" {
		return nil, pricefeed.NotFound(symbol, fmt.Errorf("empty symbol"))
	}

	start := dateOf(from)
	end := dateOf(to)
	if start.After(end) {
		return nil, pricefeed.BadData(symbol, fmt.Errorf("window start %s after end %s",
			start.Format("2006-01-02"), end.Format("2006-01-02")))
	}

	params := url.Values{}
	params.Set("interval", "1d")
	params.Set("period1", strconv.FormatInt(start.Unix(), 10))
	params.Set("period2", strconv.FormatInt(end.AddDate(0, 0, 1).Unix(), 10))

	result, err := c.fetchChart(ctx, symbol, params)
	if err != nil {
		return nil, err
	}

	points, dropped := c.toPoints(symbol, result, start, end)
	if dropped > 0 {
		c.logger.Debug("dropped unusable chart records", "symbol", symbol, "dropped", dropped, "kept", len(points))
	}
	if len(points) == 0 {
		return nil, pricefeed.BadData(symbol, fmt.Errorf("no usable records in %s..%s",
			start.Format("2006-01-02"), end.Format("2006-01-02")))
	}
	return points, nil
}

// FetchCurrent retrieves the most recent daily bar for a symbol. When
// the bar arrays are empty but the meta block carries a live market
// price, a close-only point is synthesized from it.
func (c *Client) FetchCurrent(ctx context.Context, symbol string) (*asset.PricePoint, error) {
	if symbol == "" {
		return nil, pricefeed.NotFound(symbol, fmt.Errorf("empty symbol"))
	}

	params := url.Values{}
	params.Set("interval", "1d")
	params.Set("range", "1d")

	result, err := c.fetchChart(ctx, symbol, params)
	if err != nil {
		return nil, err
	}

	// no date clamp here: whatever the provider calls current wins
	points, _ := c.toPoints(symbol, result, time.Time{}, time.Time{})
	if len(points) > 0 {
		latest := points[0]
		for _, p := range points[1:] {
			if p.Time.After(latest.Time) {
				latest = p
			}
		}
		return &latest, nil
	}

	if result.Meta.RegularMarketPrice > 0 {
		marketPrice, err := money.FromFloat(result.Meta.RegularMarketPrice, money.PriceScale)
		if err != nil {
			return nil, pricefeed.BadData(symbol, fmt.Errorf("market price %f: %w", result.Meta.RegularMarketPrice, err))
		}
		at := time.Now().UTC()
		if result.Meta.RegularMarketTime > 0 {
			at = time.Unix(result.Meta.RegularMarketTime, 0).UTC()
		}
		return &asset.PricePoint{
			Time:   at,
			Close:  marketPrice,
			Source: SourceName,
		}, nil
	}

	return nil, pricefeed.BadData(symbol, fmt.Errorf("no usable current record"))
}

// fetchChart performs a single chart request and classifies every
// failure mode into a *pricefeed.FetchError. Context cancellation is
// surfaced as ctx.Err() so shutdown never masquerades as a provider
// failure.
func (c *Client) fetchChart(ctx context.Context, symbol string, params url.Values) (*chartResult, error) {
	reqURL := fmt.Sprintf("%s/v8/finance/chart/%s?%s", c.baseURL, url.PathEscape(symbol), params.Encode())

	c.logger.Debug("chart request", "symbol", symbol, "url", reqURL)
	started := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, pricefeed.Transient(symbol, fmt.Errorf("failed to create request: %w", err))
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, pricefeed.Transient(symbol, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, pricefeed.Transient(symbol, fmt.Errorf("failed to read response: %w", err))
	}

	c.logger.Debug("chart response", "symbol", symbol, "status_code", resp.StatusCode,
		"bytes", len(body), "duration_ms", time.Since(started).Milliseconds())

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, pricefeed.Throttled(symbol, fmt.Errorf("status %d", resp.StatusCode))
	case resp.StatusCode == http.StatusNotFound:
		return nil, pricefeed.NotFound(symbol, fmt.Errorf("status %d: %s", resp.StatusCode, errSnippet(body)))
	default:
		// includes 5xx and the odd 4xx: both are worth retrying
		return nil, pricefeed.Transient(symbol, fmt.Errorf("status %d: %s", resp.StatusCode, errSnippet(body)))
	}

	var parsed chartResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, pricefeed.BadData(symbol, fmt.Errorf("failed to decode chart response: %w", err))
	}
	if parsed.Chart.Error != nil {
		return nil, pricefeed.BadData(symbol, fmt.Errorf("%s: %s", parsed.Chart.Error.Code, parsed.Chart.Error.Description))
	}
	if len(parsed.Chart.Result) == 0 {
		return nil, pricefeed.BadData(symbol, fmt.Errorf("empty result set"))
	}
	return &parsed.Chart.Result[0], nil
}

// toPoints converts a chart result into validated price points. Bars
// with a null or non-positive close, and bars outside [start, end]
// (calendar dates, skipped when start is zero), are dropped. The
// dropped count covers only unusable bars, not out-of-window ones.
func (c *Client) toPoints(symbol string, result *chartResult, start, end time.Time) ([]asset.PricePoint, int) {
	if len(result.Timestamp) == 0 || len(result.Indicators.Quote) == 0 {
		return nil, 0
	}
	quote := result.Indicators.Quote[0]

	points := make([]asset.PricePoint, 0, len(result.Timestamp))
	dropped := 0
	for i, ts := range result.Timestamp {
		at := time.Unix(ts, 0).UTC()
		if !start.IsZero() {
			day := dateOf(at)
			if day.Before(start) || day.After(end) {
				continue
			}
		}

		point := asset.PricePoint{
			Time:   at,
			Source: SourceName,
		}

		var convErr error
		point.Close, convErr = scaledAt(quote.Close, i)
		if convErr == nil {
			point.Open, convErr = scaledAt(quote.Open, i)
		}
		if convErr == nil {
			point.High, convErr = scaledAt(quote.High, i)
		}
		if convErr == nil {
			point.Low, convErr = scaledAt(quote.Low, i)
		}
		if convErr != nil {
			dropped++
			continue
		}
		if i < len(quote.Volume) && quote.Volume[i] != nil {
			v := *quote.Volume[i]
			point.Volume = &v
		}

		if err := point.Validate(); err != nil {
			dropped++
			continue
		}
		points = append(points, point)
	}
	return points, dropped
}

// scaledAt converts the i-th float of a bar array to base units.
// Missing and null entries yield nil without an error; the validator
// decides whether the resulting point is usable.
func scaledAt(values []*float64, i int) (*big.Int, error) {
	if i >= len(values) || values[i] == nil {
		return nil, nil
	}
	return money.FromFloat(*values[i], money.PriceScale)
}

func dateOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// errSnippet trims a response body for error messages
func errSnippet(body []byte) string {
	const max = 200
	if len(body) > max {
		return string(body[:max]) + "..."
	}
	return string(body)
}
