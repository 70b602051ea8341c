package config

import (
	"fmt"
	"strings"
)

// validate 对配置进行基础校验。
func validate(c *Config) error {
	if err := c.Market.validate(); err != nil {
		return err
	}
	if err := c.Signal.validate(); err != nil {
		return err
	}
	if err := c.AI.validate(); err != nil {
		return err
	}
	if err := c.Policy.validate(); err != nil {
		return err
	}
	if err := c.Dispatch.validate(); err != nil {
		return err
	}
	if err := c.Trade.validate(); err != nil {
		return err
	}
	return nil
}

func (t *TradeConfig) validate() error {
	if strings.TrimSpace(t.APIURL) == "" {
		return fmt.Errorf("trade_service.api_url cannot be empty")
	}
	return nil
}

func (m *MarketConfig) validate() error {
	if strings.TrimSpace(m.SentimentEndpoint) == "" {
		return fmt.Errorf("market.sentiment_endpoint cannot be empty")
	}
	if len(m.Basket) == 0 {
		return fmt.Errorf("market.basket requires at least one symbol")
	}
	if m.MinConfidence <= 0 || m.MinConfidence >= 1 {
		return fmt.Errorf("market.min_confidence must be in (0,1)")
	}
	return nil
}

func (s *SignalConfig) validate() error {
	if s.ValiditySeconds <= 0 {
		return fmt.Errorf("signal.validity_seconds must be > 0")
	}
	if s.HistorySize <= 1 {
		return fmt.Errorf("signal.history_size must be > 1")
	}
	if s.FlipWindowSeconds <= 0 {
		return fmt.Errorf("signal.flip_window_seconds must be > 0")
	}
	return nil
}

func (a *AIConfig) validate() error {
	if !a.Enabled {
		return nil
	}
	models, err := a.ResolveModelConfigs()
	if err != nil {
		return err
	}
	for _, m := range models {
		if !m.Enabled {
			continue
		}
		if strings.TrimSpace(m.Model) == "" {
			return fmt.Errorf("ai.models contains entry without model (id=%s)", m.ID)
		}
		if strings.TrimSpace(m.APIURL) == "" {
			return fmt.Errorf("ai.models.%s missing api_url (can inherit from preset)", m.ID)
		}
	}
	return nil
}

func (p *PolicyConfig) validate() error {
	if p.MinFavorable < 1 || p.MinFavorable > 4 {
		return fmt.Errorf("policy.min_favorable must be in [1,4]")
	}
	if p.StrongMinFavorable < 1 || p.StrongMinFavorable > p.MinFavorable {
		return fmt.Errorf("policy.strong_min_favorable must be in [1, min_favorable]")
	}
	return nil
}

func (d *DispatchConfig) validate() error {
	if d.WorkerLimit <= 0 {
		return fmt.Errorf("dispatch.worker_limit must be > 0")
	}
	if d.PositionCap <= 0 {
		return fmt.Errorf("dispatch.position_cap must be > 0")
	}
	for cur, floor := range d.MinBalance {
		if floor < 0 {
			return fmt.Errorf("dispatch.min_balance.%s cannot be negative", cur)
		}
	}
	for name, lim := range d.Exchanges {
		if lim.RatePerSecond <= 0 {
			return fmt.Errorf("dispatch.exchanges.%s.rate_per_second must be > 0", name)
		}
	}
	if d.DefaultStopLossPct <= 0 || d.DefaultTakeProfitPct <= 0 {
		return fmt.Errorf("dispatch default protective-leg percentages must be > 0")
	}
	return nil
}
