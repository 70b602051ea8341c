package config

import (
	"fmt"
	"strings"
	"sync"

	"sigflow/internal/logger"

	"github.com/fsnotify/fsnotify"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// PolicyWatcher 热加载配置文件中的 policy 段。
// 兜底评分阈值是业务策略，调整不应要求重启进程。
type PolicyWatcher struct {
	mu        sync.RWMutex
	policy    PolicyConfig
	listeners []func(PolicyConfig)
}

// WatchPolicy starts watching path and keeps the latest valid policy block.
// The initial policy comes from the already-loaded Config.
func WatchPolicy(path string, initial PolicyConfig) (*PolicyWatcher, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("policy watch path cannot be empty")
	}
	w := &PolicyWatcher{policy: initial}

	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("policy watch read failed: %w", err)
	}
	v.OnConfigChange(func(evt fsnotify.Event) {
		if err := w.reload(v); err != nil {
			logger.Errorf("policy reload failed (%s): %v", evt.Name, err)
		}
	})
	v.WatchConfig()
	return w, nil
}

func (w *PolicyWatcher) reload(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		return err
	}
	var next PolicyConfig
	if err := v.UnmarshalKey("policy", &next, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "toml"
		dc.WeaklyTypedInput = true
	}); err != nil {
		return err
	}
	keys := make(keySet)
	collectSettingsKeys(v.AllSettings(), keys)
	next.applyDefaults(keys)
	if err := next.validate(); err != nil {
		return err
	}
	w.mu.Lock()
	w.policy = next
	listeners := append([]func(PolicyConfig){}, w.listeners...)
	w.mu.Unlock()
	logger.Infof("policy reloaded: min_favorable=%d strong_min_favorable=%d",
		next.MinFavorable, next.StrongMinFavorable)
	for _, fn := range listeners {
		fn(next)
	}
	return nil
}

// Current 返回最新策略快照。
func (w *PolicyWatcher) Current() PolicyConfig {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.policy
}

// OnChange registers a listener invoked after each successful reload.
func (w *PolicyWatcher) OnChange(fn func(PolicyConfig)) {
	if fn == nil {
		return
	}
	w.mu.Lock()
	w.listeners = append(w.listeners, fn)
	w.mu.Unlock()
}
