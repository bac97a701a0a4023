package finnhub

import (
	"context"
	"net/url"
	"strconv"
)

// QuoteResponse is the upstream /quote shape: c current, d change,
// dp percent change, h/l day range, t unix seconds.
type QuoteResponse struct {
	Current       float64 `json:"c"`
	Change        float64 `json:"d"`
	ChangePercent float64 `json:"dp"`
	High          float64 `json:"h"`
	Low           float64 `json:"l"`
	Open          float64 `json:"o"`
	PrevClose     float64 `json:"pc"`
	Timestamp     int64   `json:"t"`
}

// GetQuote fetches the quote for one symbol.
func (c *Client) GetQuote(ctx context.Context, symbol string) (*QuoteResponse, error) {
	var out QuoteResponse
	if err := c.get(ctx, "/quote", url.Values{"symbol": {symbol}}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CandleResponse is the upstream column-oriented candle shape.
// S is "ok" or "no_data".
type CandleResponse struct {
	Open   []float64 `json:"o"`
	High   []float64 `json:"h"`
	Low    []float64 `json:"l"`
	Close  []float64 `json:"c"`
	Volume []float64 `json:"v"`
	Time   []int64   `json:"t"`
	Status string    `json:"s"`
}

// GetCandles fetches candles for symbol at the given native resolution
// (1, 5, 15, 60, D) between from and to (unix seconds).
func (c *Client) GetCandles(ctx context.Context, symbol, resolution string, from, to int64) (*CandleResponse, error) {
	q := url.Values{
		"symbol":     {symbol},
		"resolution": {resolution},
		"from":       {strconv.FormatInt(from, 10)},
		"to":         {strconv.FormatInt(to, 10)},
	}
	var out CandleResponse
	if err := c.get(ctx, "/stock/candle", q, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// NewsArticle is one article from /news or /company-news.
type NewsArticle struct {
	Category string `json:"category"`
	Datetime int64  `json:"datetime"`
	Headline string `json:"headline"`
	ID       int64  `json:"id"`
	Related  string `json:"related"`
	Source   string `json:"source"`
	Summary  string `json:"summary"`
	URL      string `json:"url"`
}

// GetNews fetches general market news for a category.
func (c *Client) GetNews(ctx context.Context, category string) ([]NewsArticle, error) {
	if category == "" {
		category = "general"
	}
	var out []NewsArticle
	if err := c.get(ctx, "/news", url.Values{"category": {category}}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetCompanyNews fetches news for one symbol in a date range
// (YYYY-MM-DD bounds, inclusive).
func (c *Client) GetCompanyNews(ctx context.Context, symbol, from, to string) ([]NewsArticle, error) {
	q := url.Values{"symbol": {symbol}, "from": {from}, "to": {to}}
	var out []NewsArticle
	if err := c.get(ctx, "/company-news", q, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// StockSymbol is one listing row from /stock/symbol.
type StockSymbol struct {
	Currency      string `json:"currency"`
	Description   string `json:"description"`
	DisplaySymbol string `json:"displaySymbol"`
	Symbol        string `json:"symbol"`
	Type          string `json:"type"`
	Mic           string `json:"mic"`
}

// GetStockSymbols lists symbols for an exchange code (e.g. "US").
func (c *Client) GetStockSymbols(ctx context.Context, exchange string) ([]StockSymbol, error) {
	var out []StockSymbol
	if err := c.get(ctx, "/stock/symbol", url.Values{"exchange": {exchange}}, &out); err != nil {
		return nil, err
	}
	return out, nil
}
