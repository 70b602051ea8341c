package history

import (
	"strings"
	"sync"
	"time"

	"sigflow/internal/types"
)

// Recommendation 历史形态分析结论。
type Recommendation string

const (
	RecommendAccept  Recommendation = "ACCEPT"
	RecommendCaution Recommendation = "CAUTION"
	RecommendReject  Recommendation = "REJECT"
)

type entry struct {
	side string
	at   time.Time
}

// instrumentWindow 单标的滚动窗口，持有自己的锁。
// 每个标的独立加锁，跨标的并发互不阻塞。
type instrumentWindow struct {
	mu      sync.Mutex
	entries []entry
}

// Analyzer 检测逆势翻转形态：短时间内信号方向翻转次数超过阈值，
// 说明信号源在追着噪声走，建议降级或拒绝。
type Analyzer struct {
	maxEntries int
	flipLimit  int
	flipWindow time.Duration

	mu      sync.RWMutex
	windows map[string]*instrumentWindow
	clock   func() time.Time
}

func NewAnalyzer(maxEntries, flipLimit int, flipWindow time.Duration) *Analyzer {
	if maxEntries <= 1 {
		maxEntries = 10
	}
	if flipLimit <= 0 {
		flipLimit = 3
	}
	if flipWindow <= 0 {
		flipWindow = 5 * time.Minute
	}
	return &Analyzer{
		maxEntries: maxEntries,
		flipLimit:  flipLimit,
		flipWindow: flipWindow,
		windows:    make(map[string]*instrumentWindow),
		clock:      time.Now,
	}
}

// Analyze 追加本次信号并给出建议。
// 注意：追加发生在判定之前——即便信号随后被下游拒绝，历史也要记录。
func (a *Analyzer) Analyze(instrument string, direction types.Direction, at time.Time) Recommendation {
	if a == nil {
		return RecommendAccept
	}
	instrument = strings.ToUpper(strings.TrimSpace(instrument))
	if instrument == "" || !direction.Valid() {
		return RecommendAccept
	}
	if at.IsZero() {
		at = a.now()
	}

	w := a.window(instrument)
	w.mu.Lock()
	defer w.mu.Unlock()

	w.entries = append(w.entries, entry{side: direction.Side(), at: at})
	a.prune(w, at)

	flips := flipsWithin(w.entries, at.Add(-a.flipWindow))
	switch {
	case flips > a.flipLimit:
		return RecommendReject
	case flips == a.flipLimit:
		return RecommendCaution
	default:
		return RecommendAccept
	}
}

// Flips 返回指定标的在翻转窗口内的当前翻转计数（只读）。
func (a *Analyzer) Flips(instrument string) int {
	if a == nil {
		return 0
	}
	instrument = strings.ToUpper(strings.TrimSpace(instrument))
	a.mu.RLock()
	w, ok := a.windows[instrument]
	a.mu.RUnlock()
	if !ok {
		return 0
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return flipsWithin(w.entries, a.now().Add(-a.flipWindow))
}

func (a *Analyzer) window(instrument string) *instrumentWindow {
	a.mu.RLock()
	w, ok := a.windows[instrument]
	a.mu.RUnlock()
	if ok {
		return w
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if w, ok = a.windows[instrument]; ok {
		return w
	}
	w = &instrumentWindow{}
	a.windows[instrument] = w
	return w
}

// prune 按条数与年龄裁剪。分析途中不会清空整个窗口。
func (a *Analyzer) prune(w *instrumentWindow, now time.Time) {
	if len(w.entries) > a.maxEntries {
		w.entries = w.entries[len(w.entries)-a.maxEntries:]
	}
	cutoff := now.Add(-2 * a.flipWindow)
	idx := 0
	for idx < len(w.entries) && w.entries[idx].at.Before(cutoff) {
		idx++
	}
	if idx > 0 {
		w.entries = w.entries[idx:]
	}
}

func flipsWithin(entries []entry, since time.Time) int {
	flips := 0
	prev := ""
	for _, e := range entries {
		if e.at.Before(since) {
			continue
		}
		if prev != "" && e.side != prev {
			flips++
		}
		prev = e.side
	}
	return flips
}

func (a *Analyzer) now() time.Time {
	if a != nil && a.clock != nil {
		return a.clock()
	}
	return time.Now()
}
