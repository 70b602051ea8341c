package transporthttp

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"sigflow/internal/logger"
	"sigflow/internal/types"
)

// 入站 webhook 的结构约束。先过 schema 再解析，
// 告警源偶尔会发出字段缺失或类型错误的负载。
const signalSchemaJSON = `{
	"type": "object",
	"required": ["instrument", "direction"],
	"properties": {
		"instrument": {"type": "string", "minLength": 1},
		"direction": {"type": "string", "minLength": 1},
		"source": {"type": "string"},
		"ts": {"type": "integer"}
	},
	"additionalProperties": true
}`

var signalSchema = jsonschema.MustCompileString("signal.json", signalSchemaJSON)

type signalPayload struct {
	Instrument string `json:"instrument"`
	Direction  string `json:"direction"`
	Source     string `json:"source"`
	TS         int64  `json:"ts"` // 毫秒时间戳，缺省用接收时间
}

func registerSignalRoutes(group *gin.RouterGroup, sink SignalSink) {
	group.POST("/signal", func(c *gin.Context) {
		body, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "reading body failed"})
			return
		}

		var generic interface{}
		if err := json.Unmarshal(body, &generic); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
			return
		}
		if err := signalSchema.Validate(generic); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "schema validation failed: " + err.Error()})
			return
		}

		var payload signalPayload
		if err := json.Unmarshal(body, &payload); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
			return
		}

		direction, err := types.ParseDirection(payload.Direction)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		source := strings.TrimSpace(payload.Source)
		if source == "" {
			source = "webhook"
		}

		sig := types.NewSignal(payload.Instrument, direction, source)
		if payload.TS > 0 {
			// 告警源自带时间戳：有效期以发出时刻为准，而非接收时刻。
			sig.ReceivedAt = time.UnixMilli(payload.TS)
		}
		sig.RawPayload = string(body)

		if !sink.Submit(sig) {
			logger.Warnf("信号队列已满，丢弃 %s %s", sig.Instrument, sig.Direction)
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "signal queue full"})
			return
		}
		// 处理是异步的，入队即响应。
		c.JSON(http.StatusAccepted, gin.H{"signal_id": sig.ID, "status": "queued"})
	})
}
