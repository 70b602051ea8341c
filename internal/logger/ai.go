package logger

import (
	"io"
	"log"
	"strings"
	"sync"
)

var (
	aiMu          sync.Mutex
	aiLog         *log.Logger
	aiDumpPayload bool
)

// SetAIWriter 设置 AI 请求/响应转储目标；nil 表示关闭。
func SetAIWriter(w io.Writer) {
	aiMu.Lock()
	defer aiMu.Unlock()
	if w == nil {
		aiLog = nil
		return
	}
	aiLog = log.New(w, "", log.LstdFlags)
}

func EnableAIPayloadDump(enabled bool) {
	aiMu.Lock()
	aiDumpPayload = enabled
	aiMu.Unlock()
}

type aiSection struct {
	Title string
	Body  string
}

func logAI(kind, provider, purpose string, sections []aiSection) {
	aiMu.Lock()
	logger := aiLog
	aiMu.Unlock()
	if logger == nil {
		return
	}
	var b strings.Builder
	b.WriteString("[AI]")
	if kind != "" {
		b.WriteString("[")
		b.WriteString(kind)
		b.WriteString("]")
	}
	if provider != "" {
		b.WriteString("[")
		b.WriteString(provider)
		b.WriteString("]")
	}
	if purpose != "" {
		b.WriteString("[")
		b.WriteString(purpose)
		b.WriteString("]")
	}
	b.WriteString("\n")
	for _, sec := range sections {
		t := strings.TrimSpace(sec.Title)
		if t == "" {
			t = "CONTENT"
		}
		b.WriteString("--- ")
		b.WriteString(t)
		b.WriteString(" ---\n")
		body := sec.Body
		b.WriteString(body)
		if !strings.HasSuffix(body, "\n") {
			b.WriteString("\n")
		}
	}
	b.WriteString("=====\n")
	logger.Print(b.String())
}

func LogAIRequest(provider, purpose, systemPrompt, userPrompt, payload string) {
	sections := []aiSection{
		{Title: "SYSTEM", Body: systemPrompt},
		{Title: "USER", Body: userPrompt},
	}
	if aiDumpPayload && strings.TrimSpace(payload) != "" {
		sections = append(sections, aiSection{Title: "PAYLOAD", Body: payload})
	}
	logAI("request", provider, purpose, sections)
}

func LogAIResponse(provider, purpose, raw string) {
	sections := []aiSection{{Title: "RAW", Body: raw}}
	logAI("response", provider, purpose, sections)
}
