package market

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"sigflow/internal/logger"

	"github.com/tidwall/gjson"
)

const (
	fearGreedErrorBackoff   = 2 * time.Minute
	fearGreedFallbackUpdate = 12 * time.Hour
)

type FearGreedPoint struct {
	Value          int
	Classification string
	Timestamp      time.Time
}

type FearGreedData struct {
	Value           int
	Classification  string
	Timestamp       time.Time
	TimeUntilUpdate time.Duration
	History         []FearGreedPoint
	LastUpdate      time.Time
	Error           string
}

// FearGreedService 缓存恐惧贪婪指数，刷新由外部调度器驱动。
type FearGreedService struct {
	endpoint string
	client   *http.Client

	mu         sync.RWMutex
	data       FearGreedData
	nextUpdate time.Time
	refreshMu  sync.Mutex
}

func NewFearGreedService(endpoint string) *FearGreedService {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		endpoint = "https://api.alternative.me/fng/?limit=5"
	}
	return &FearGreedService{
		endpoint: endpoint,
		client: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

func (s *FearGreedService) Get() (FearGreedData, bool) {
	if s == nil {
		return FearGreedData{}, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	ok := !s.data.LastUpdate.IsZero() && s.data.Error == ""
	return s.data, ok
}

func (s *FearGreedService) RefreshIfStale(ctx context.Context) {
	if s == nil {
		return
	}
	now := time.Now()
	s.mu.RLock()
	next := s.nextUpdate
	last := s.data.LastUpdate
	s.mu.RUnlock()
	if !last.IsZero() && !next.IsZero() && now.Before(next) {
		return
	}

	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	s.mu.RLock()
	next = s.nextUpdate
	last = s.data.LastUpdate
	s.mu.RUnlock()
	if !last.IsZero() && !next.IsZero() && now.Before(next) {
		return
	}
	if err := s.refresh(ctx); err != nil {
		logger.Warnf("Fear & Greed 刷新失败: %v", err)
	}
}

func (s *FearGreedService) refresh(ctx context.Context) error {
	if s == nil || s.client == nil {
		return fmt.Errorf("fear & greed service not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.endpoint, nil)
	if err != nil {
		s.setError(err)
		return err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		s.setError(err)
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		err := fmt.Errorf("unexpected status %s", resp.Status)
		s.setError(err)
		return err
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		s.setError(err)
		return err
	}
	payload := gjson.ParseBytes(body)
	if apiErr := payload.Get("metadata.error"); apiErr.Exists() && apiErr.Type != gjson.Null {
		err := fmt.Errorf("api error: %s", apiErr.String())
		s.setError(err)
		return err
	}
	items := payload.Get("data").Array()
	if len(items) == 0 {
		err := fmt.Errorf("api data empty")
		s.setError(err)
		return err
	}

	points := make([]FearGreedPoint, 0, len(items))
	for _, item := range items {
		value := item.Get("value")
		if !value.Exists() {
			continue
		}
		var ts time.Time
		if sec := item.Get("timestamp").Int(); sec > 0 {
			ts = time.Unix(sec, 0).UTC()
		}
		points = append(points, FearGreedPoint{
			Value:          int(value.Int()),
			Classification: strings.TrimSpace(item.Get("value_classification").String()),
			Timestamp:      ts,
		})
	}
	if len(points) == 0 {
		err := fmt.Errorf("api data invalid")
		s.setError(err)
		return err
	}

	var until time.Duration
	if secs := items[0].Get("time_until_update").Int(); secs > 0 {
		until = time.Duration(secs) * time.Second
	}
	latest := points[0]

	now := time.Now()
	next := now.Add(fearGreedFallbackUpdate)
	if until > 0 {
		next = now.Add(until)
	}

	data := FearGreedData{
		Value:           latest.Value,
		Classification:  latest.Classification,
		Timestamp:       latest.Timestamp,
		TimeUntilUpdate: until,
		History:         points,
		LastUpdate:      now,
	}
	s.setData(data, next)
	return nil
}

func (s *FearGreedService) setError(err error) {
	if s == nil {
		return
	}
	now := time.Now()
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	data := FearGreedData{
		LastUpdate: now,
		Error:      msg,
	}
	s.setData(data, now.Add(fearGreedErrorBackoff))
}

func (s *FearGreedService) setData(data FearGreedData, next time.Time) {
	s.mu.Lock()
	s.data = data
	s.nextUpdate = next
	s.mu.Unlock()
}
