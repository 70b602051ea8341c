package binance

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2/futures"
)

const maxKlineLimit = 1500

// Source 基于 go-binance SDK 提供参考篮子行情，实现 market.BasketSource。
type Source struct {
	client *futures.Client
}

type Config struct {
	RESTBaseURL string
	HTTPTimeout time.Duration
}

func New(cfg Config) *Source {
	client := futures.NewClient("", "")
	if base := strings.TrimSpace(cfg.RESTBaseURL); base != "" {
		client.BaseURL = base
	}
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	client.HTTPClient = &http.Client{Timeout: timeout}
	return &Source{client: client}
}

// ChangePct24h 返回 24 小时涨跌幅（百分比）。
func (s *Source) ChangePct24h(ctx context.Context, symbol string) (float64, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return 0, fmt.Errorf("symbol is required")
	}
	stats, err := s.client.NewListPriceChangeStatsService().Symbol(symbol).Do(ctx)
	if err != nil {
		return 0, err
	}
	if len(stats) == 0 || stats[0] == nil {
		return 0, fmt.Errorf("no 24h stats for %s", symbol)
	}
	return parseFloat(stats[0].PriceChangePercent), nil
}

// Closes 返回最近 limit 根 K 线的收盘价，按时间升序。
func (s *Source) Closes(ctx context.Context, symbol, interval string, limit int) ([]float64, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return nil, fmt.Errorf("symbol is required")
	}
	interval = strings.ToLower(strings.TrimSpace(interval))
	if interval == "" {
		interval = "1h"
	}
	if limit <= 0 {
		limit = 100
	}
	if limit > maxKlineLimit {
		limit = maxKlineLimit
	}
	kls, err := s.client.NewKlinesService().Symbol(symbol).Interval(interval).Limit(limit).Do(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]float64, 0, len(kls))
	for _, kl := range kls {
		if kl == nil {
			continue
		}
		out = append(out, parseFloat(kl.Close))
	}
	return out, nil
}

// LatestPrice 返回标的最新标记价格，用于保护腿定价。
func (s *Source) LatestPrice(ctx context.Context, symbol string) (float64, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return 0, fmt.Errorf("symbol is required")
	}
	prices, err := s.client.NewListPricesService().Symbol(symbol).Do(ctx)
	if err != nil {
		return 0, err
	}
	if len(prices) == 0 || prices[0] == nil {
		return 0, fmt.Errorf("no price for %s", symbol)
	}
	return parseFloat(prices[0].Price), nil
}

func parseFloat(raw string) float64 {
	val, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0
	}
	return val
}
