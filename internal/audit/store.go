package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
	_ "modernc.org/sqlite"

	"sigflow/internal/decision"
	"sigflow/internal/dispatch"
	"sigflow/internal/market"
	"sigflow/internal/types"
)

// Outcome 每条信号的终态分类。
type Outcome string

const (
	OutcomeExpired          Outcome = "expired"
	OutcomeDirectionBlocked Outcome = "direction_blocked"
	OutcomeDecisionRejected Outcome = "decision_rejected"
	OutcomeDispatched       Outcome = "dispatched"
	OutcomePartialDispatch  Outcome = "partial_dispatch"
	OutcomeDispatchFailed   Outcome = "dispatch_failed"
)

// RecordModel 是审计表的 GORM 模型。
// signal_id 唯一：同一信号只落一条终态记录。
type RecordModel struct {
	ID            int64          `gorm:"column:id;primaryKey"`
	SignalID      string         `gorm:"column:signal_id;uniqueIndex"`
	Instrument    string         `gorm:"column:instrument;index:idx_audit_instrument_ts"`
	Direction     string         `gorm:"column:direction"`
	Source        string         `gorm:"column:signal_source"`
	Outcome       string         `gorm:"column:outcome;index"`
	ShouldExecute bool           `gorm:"column:should_execute"`
	Reason        string         `gorm:"column:reason"`
	Confidence    float64        `gorm:"column:confidence"`
	DecisionBy    string         `gorm:"column:decision_source"`
	Factors       datatypes.JSON `gorm:"column:factors_json"`
	Dispatch      datatypes.JSON `gorm:"column:dispatch_json"`
	ReceivedAt    int64          `gorm:"column:received_at"`
	Timestamp     int64          `gorm:"column:ts;index:idx_audit_instrument_ts"`
	CreatedAtUnix int64          `gorm:"column:created_at"`
}

func (RecordModel) TableName() string { return "audit_records" }

// Store 是写侧为主的审计落库。写失败只记日志，绝不反向影响交易结果。
type Store struct {
	db *gorm.DB
}

func NewStore(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("audit store: 数据库路径不能为空")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Dialector{DriverName: "sqlite", DSN: dsn}, &gorm.Config{
		Logger:                                   gormlogger.Default.LogMode(gormlogger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&RecordModel{}); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite + WAL：写侧为主，少量并发读即可。
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Record 落一条信号终态。同一 signal_id 重复写入直接忽略（幂等）。
func (s *Store) Record(ctx context.Context, sig types.Signal, snap market.Snapshot,
	dec decision.Decision, summary *dispatch.Summary) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("audit store 未初始化")
	}

	factors, err := json.Marshal(dec.Factors)
	if err != nil {
		return fmt.Errorf("marshaling factor snapshot failed: %w", err)
	}
	var dispatchBlob datatypes.JSON
	if summary != nil {
		b, err := json.Marshal(summary)
		if err != nil {
			return fmt.Errorf("marshaling dispatch summary failed: %w", err)
		}
		dispatchBlob = b
	}

	now := time.Now()
	rec := RecordModel{
		SignalID:      sig.ID,
		Instrument:    sig.Instrument,
		Direction:     string(sig.Direction),
		Source:        sig.Source,
		Outcome:       string(classify(dec, summary)),
		ShouldExecute: dec.ShouldExecute,
		Reason:        dec.Reason,
		Confidence:    dec.Confidence,
		DecisionBy:    dec.Source,
		Factors:       factors,
		Dispatch:      dispatchBlob,
		ReceivedAt:    sig.ReceivedAt.UnixMilli(),
		Timestamp:     dec.DecidedAt.UnixMilli(),
		CreatedAtUnix: now.Unix(),
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "signal_id"}},
			DoNothing: true,
		}).
		Create(&rec).Error
}

// classify 由决策与派发结果推导终态分类。
func classify(dec decision.Decision, summary *dispatch.Summary) Outcome {
	if !dec.ShouldExecute {
		switch dec.Source {
		case decision.SourceExpired:
			return OutcomeExpired
		case decision.SourceGate:
			return OutcomeDirectionBlocked
		default:
			return OutcomeDecisionRejected
		}
	}
	if summary == nil || summary.Total == 0 {
		return OutcomeDispatchFailed
	}
	switch {
	case summary.Succeeded == 0:
		return OutcomeDispatchFailed
	case summary.Failed > 0 || summary.Skipped > 0:
		return OutcomePartialDispatch
	default:
		return OutcomeDispatched
	}
}

// Recent 返回最近的审计记录，供状态接口查询。
func (s *Store) Recent(ctx context.Context, instrument string, limit int) ([]RecordModel, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("audit store 未初始化")
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	q := s.db.WithContext(ctx).Model(&RecordModel{}).Order("ts DESC, id DESC").Limit(limit)
	if instrument != "" {
		q = q.Where("instrument = ?", instrument)
	}
	var out []RecordModel
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
