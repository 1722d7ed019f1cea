// Package quote resolves market prices from the Stooq CSV endpoint.
package quote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

var (
	ErrNoData      = errors.New("quote: no data for symbol")
	ErrBadResponse = errors.New("quote: malformed response")
)

// Quote is one daily quote line.
type Quote struct {
	Symbol string          `json:"symbol"`
	Date   string          `json:"date"`
	Time   string          `json:"time"`
	Open   decimal.Decimal `json:"open"`
	High   decimal.Decimal `json:"high"`
	Low    decimal.Decimal `json:"low"`
	Close  decimal.Decimal `json:"close"`
	Volume int64           `json:"volume"`
}

// StooqClient fetches quotes, at most one request per minInterval.
type StooqClient struct {
	client  *resty.Client
	limiter *rate.Limiter
	market  string
	logger  *slog.Logger
}

// NewStooqClient creates a client for baseURL. minInterval <= 0 disables
// throttling.
func NewStooqClient(baseURL string, minInterval time.Duration, logger *slog.Logger) *StooqClient {
	if logger == nil {
		logger = slog.Default()
	}

	limit := rate.Inf
	if minInterval > 0 {
		limit = rate.Every(minInterval)
	}

	return &StooqClient{
		client: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(5 * time.Second).
			SetRetryCount(1),
		limiter: rate.NewLimiter(limit, 1),
		market:  "us",
		logger:  logger.With(slog.String("component", "stooq")),
	}
}

// Quote returns the latest quote of symbol.
func (c *StooqClient) Quote(ctx context.Context, symbol string) (*Quote, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	fullSymbol := strings.ToLower(symbol) + "." + c.market
	c.logger.Debug("requesting quote", slog.String("symbol", fullSymbol))

	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"s": fullSymbol,
			"f": "sd2t2ohlcv",
			"h": "",
			"e": "csv",
		}).
		Get("/q/l/")
	if err != nil {
		return nil, fmt.Errorf("quote %s: %w", fullSymbol, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("%w: status %d", ErrBadResponse, resp.StatusCode())
	}

	q, err := parseCSV(resp.String())
	if err != nil {
		c.logger.Warn("quote unavailable", slog.String("symbol", fullSymbol), slog.Any("error", err))
		return nil, err
	}
	return q, nil
}

// Price returns the close price of symbol.
func (c *StooqClient) Price(ctx context.Context, symbol string) (decimal.Decimal, error) {
	q, err := c.Quote(ctx, symbol)
	if err != nil {
		return decimal.Zero, err
	}
	return q.Close, nil
}

// parseCSV reads the header line and the first data line.
func parseCSV(body string) (*Quote, error) {
	lines := strings.Split(strings.TrimSpace(body), "\n")
	if len(lines) < 2 {
		return nil, ErrBadResponse
	}

	parts := strings.Split(strings.TrimSpace(lines[1]), ",")
	if len(parts) < 8 {
		return nil, ErrBadResponse
	}
	if parts[1] == "N/D" {
		return nil, fmt.Errorf("%w: %s", ErrNoData, parts[0])
	}

	q := &Quote{
		Symbol: parts[0],
		Date:   parts[1],
		Time:   parts[2],
	}

	var err error
	fields := []*decimal.Decimal{&q.Open, &q.High, &q.Low, &q.Close}
	for i, field := range fields {
		if *field, err = decimal.NewFromString(parts[3+i]); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadResponse, err)
		}
	}
	if q.Volume, err = strconv.ParseInt(parts[7], 10, 64); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadResponse, err)
	}
	return q, nil
}
