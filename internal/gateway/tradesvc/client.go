package tradesvc

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"sigflow/internal/config"
	"sigflow/internal/dispatch"
)

// Client 封装账户/订单管理服务的 REST 接口。
// 它同时实现 dispatch.AccountService 与 dispatch.OrderService。
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	username   string
	password   string
	token      string
}

// NewClient constructs a trade service client from configuration.
func NewClient(cfg config.TradeConfig) (*Client, error) {
	raw := strings.TrimSpace(cfg.APIURL)
	if raw == "" {
		return nil, fmt.Errorf("trade_service.api_url 不能为空")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("解析 trade_service.api_url 失败: %w", err)
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.InsecureSkipVerify {
		if transport.TLSClientConfig == nil {
			transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} // #nosec G402
		} else {
			transport.TLSClientConfig.InsecureSkipVerify = true // #nosec G402
		}
	}
	return &Client{
		baseURL:    parsed,
		httpClient: &http.Client{Timeout: timeout, Transport: transport},
		username:   strings.TrimSpace(cfg.Username),
		password:   strings.TrimSpace(cfg.Password),
		token:      strings.TrimSpace(cfg.APIToken),
	}, nil
}

// SetHTTPClient sets the HTTP client for testing.
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

type profilePayload struct {
	UserID        string  `json:"user_id"`
	Exchange      string  `json:"exchange"`
	Currency      string  `json:"currency"`
	OrderSizePct  float64 `json:"order_size_pct"`
	StopLossPct   float64 `json:"stop_loss_pct"`
	TakeProfitPct float64 `json:"take_profit_pct"`
	Leverage      int     `json:"leverage"`
}

// ActiveProfiles 拉取活跃且有可交易余额的账户列表。
func (c *Client) ActiveProfiles(ctx context.Context) ([]dispatch.UserTradingProfile, error) {
	var resp struct {
		Profiles []profilePayload `json:"profiles"`
	}
	if err := c.doRequest(ctx, http.MethodGet, "/api/v1/accounts/active", nil, &resp); err != nil {
		return nil, err
	}
	out := make([]dispatch.UserTradingProfile, 0, len(resp.Profiles))
	for _, p := range resp.Profiles {
		out = append(out, dispatch.UserTradingProfile{
			UserID:        p.UserID,
			Exchange:      strings.ToLower(strings.TrimSpace(p.Exchange)),
			Currency:      strings.ToUpper(strings.TrimSpace(p.Currency)),
			OrderSizePct:  p.OrderSizePct,
			StopLossPct:   p.StopLossPct,
			TakeProfitPct: p.TakeProfitPct,
			Leverage:      p.Leverage,
		})
	}
	return out, nil
}

// TradableBalance 查询用户计价币种的可用余额。
func (c *Client) TradableBalance(ctx context.Context, userID, currency string) (decimal.Decimal, error) {
	var resp struct {
		Balance string `json:"balance"`
	}
	path := fmt.Sprintf("/api/v1/accounts/%s/balance?currency=%s",
		url.PathEscape(userID), url.QueryEscape(currency))
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return decimal.Zero, err
	}
	bal, err := decimal.NewFromString(strings.TrimSpace(resp.Balance))
	if err != nil {
		return decimal.Zero, fmt.Errorf("解析余额失败 (%q): %w", resp.Balance, err)
	}
	return bal, nil
}

func (c *Client) OpenPositionCount(ctx context.Context, userID string) (int, error) {
	var resp struct {
		Count int `json:"count"`
	}
	path := fmt.Sprintf("/api/v1/accounts/%s/positions/count", url.PathEscape(userID))
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return 0, err
	}
	return resp.Count, nil
}

// LastTradeAt 查询用户上次交易该品种的时间；从未交易过返回零值。
func (c *Client) LastTradeAt(ctx context.Context, userID, instrument string) (time.Time, error) {
	var resp struct {
		LastTradeMs int64 `json:"last_trade_ms"`
	}
	path := fmt.Sprintf("/api/v1/accounts/%s/trades/last?instrument=%s",
		url.PathEscape(userID), url.QueryEscape(instrument))
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return time.Time{}, err
	}
	if resp.LastTradeMs <= 0 {
		return time.Time{}, nil
	}
	return time.UnixMilli(resp.LastTradeMs), nil
}

type orderPayload struct {
	UserID     string  `json:"user_id"`
	Exchange   string  `json:"exchange"`
	Instrument string  `json:"instrument"`
	Side       string  `json:"side"`
	SizePct    float64 `json:"size_pct"`
	Leverage   int     `json:"leverage,omitempty"`
	StopLoss   string  `json:"stop_loss"`
	TakeProfit string  `json:"take_profit"`
	SignalID   string  `json:"signal_id"`
}

// CreateOrder 提交带保护腿的下单请求，返回订单引用。
func (c *Client) CreateOrder(ctx context.Context, req dispatch.OrderRequest) (string, error) {
	payload := orderPayload{
		UserID:     req.UserID,
		Exchange:   req.Exchange,
		Instrument: req.Instrument,
		Side:       req.Side,
		SizePct:    req.SizePct,
		Leverage:   req.Leverage,
		StopLoss:   req.StopLoss.String(),
		TakeProfit: req.TakeProfit.String(),
		SignalID:   req.SignalID,
	}
	var resp struct {
		OrderRef string `json:"order_ref"`
	}
	if err := c.doRequest(ctx, http.MethodPost, "/api/v1/orders", payload, &resp); err != nil {
		return "", err
	}
	if strings.TrimSpace(resp.OrderRef) == "" {
		return "", fmt.Errorf("trade service 未返回 order_ref")
	}
	return resp.OrderRef, nil
}

func (c *Client) doRequest(ctx context.Context, method, path string, payload any, out any) error {
	if c == nil {
		return fmt.Errorf("trade service client 未初始化")
	}
	endpoint, err := c.resolveEndpoint(path)
	if err != nil {
		return err
	}

	var body io.Reader
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("序列化请求失败: %w", err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint.String(), body)
	if err != nil {
		return fmt.Errorf("构造请求失败: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	} else if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("调用 trade service 失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if len(data) == 0 {
			return fmt.Errorf("trade service 返回错误: %s", resp.Status)
		}
		return fmt.Errorf("trade service 返回错误(%s): %s", resp.Status, strings.TrimSpace(string(data)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("解析 trade service 响应失败: %w", err)
	}
	return nil
}

func (c *Client) resolveEndpoint(path string) (*url.URL, error) {
	if c.baseURL == nil {
		return nil, fmt.Errorf("trade service API 地址未设置")
	}
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		trimmed = "/"
	}
	query := ""
	if idx := strings.Index(trimmed, "?"); idx >= 0 {
		query = trimmed[idx+1:]
		trimmed = trimmed[:idx]
	}
	if !strings.HasPrefix(trimmed, "/") {
		trimmed = "/" + trimmed
	}
	base := *c.baseURL
	base.Path = strings.TrimSuffix(base.Path, "/") + trimmed
	base.RawPath = ""
	base.RawQuery = query
	base.Fragment = ""
	return &base, nil
}
