package decision

import (
	"fmt"
	"os"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"
)

// PromptTemplates 判定提示词模板，User 部分是 text/template。
type PromptTemplates struct {
	System string `yaml:"system"`
	User   string `yaml:"user"`
}

// 内置模板：配置缺失时保证系统可用。
// 要求模型首 token 给出二元判定，便于 ParseVerdict 解析。
const (
	builtinSystemPrompt = `You are a trade execution supervisor. You review one trading signal
against the current market context and decide whether it should be executed.
You may only approve or reject; you cannot change the trade itself.
Answer with exactly one word first: APPROVE or REJECT, then a short reason
(one sentence). Do not output anything before the verdict word.`

	builtinUserPrompt = `Signal: {{.Direction}} on {{.Instrument}} (source={{.SignalSource}}, age={{.SignalAgeMs}}ms)
Market sentiment: {{.SentimentValue}}/100 ({{.SentimentClass}})
Basket breadth trend: {{.BreadthTrend}}
Allowed direction from market gate: {{.Allowed}} (confidence {{printf "%.2f" .GateConfidence}}{{if .GateStale}}, stale data{{end}})
Recent signal history recommendation: {{.HistoryRec}}

Should this signal be executed?`
)

// PromptRenderer 渲染一次判定的 System/User 提示词。
type PromptRenderer struct {
	system string
	user   *template.Template
}

// LoadPromptRenderer 从 YAML 文件加载模板；path 为空或读取失败时回退内置模板。
func LoadPromptRenderer(path string) (*PromptRenderer, error) {
	tpl := PromptTemplates{System: builtinSystemPrompt, User: builtinUserPrompt}
	if p := strings.TrimSpace(path); p != "" {
		raw, err := os.ReadFile(p)
		if err == nil {
			var loaded PromptTemplates
			if err := yaml.Unmarshal(raw, &loaded); err != nil {
				return nil, fmt.Errorf("parsing prompt templates failed (%s): %w", p, err)
			}
			if strings.TrimSpace(loaded.System) != "" {
				tpl.System = loaded.System
			}
			if strings.TrimSpace(loaded.User) != "" {
				tpl.User = loaded.User
			}
		}
	}
	user, err := template.New("judge-user").Parse(tpl.User)
	if err != nil {
		return nil, fmt.Errorf("compiling user prompt template failed: %w", err)
	}
	return &PromptRenderer{system: tpl.System, user: user}, nil
}

func (r *PromptRenderer) Render(jc JudgeContext) (system, user string, err error) {
	if r == nil || r.user == nil {
		return "", "", fmt.Errorf("prompt renderer not initialized")
	}
	var b strings.Builder
	if err := r.user.Execute(&b, jc); err != nil {
		return "", "", fmt.Errorf("rendering user prompt failed: %w", err)
	}
	return r.system, b.String(), nil
}
