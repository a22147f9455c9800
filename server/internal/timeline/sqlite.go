package timeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"drawsync/server/internal/model"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// drawEventRow 是事件日志在 SQLite 中的行结构，Seq 即自增主键。
type drawEventRow struct {
	Seq       int64     `gorm:"primaryKey;autoIncrement"`
	EventID   *string   `gorm:"uniqueIndex"`
	Kind      string    `gorm:"not null"`
	Tool      string    `gorm:"not null;default:''"`
	Color     string    `gorm:"not null;default:''"`
	Width     float64   `gorm:"not null;default:0"`
	Points    string    `gorm:"type:text;not null"` // JSON array of points
	CreatedAt time.Time `gorm:"not null"`
}

func (drawEventRow) TableName() string {
	return "draw_events"
}

// SQLiteStore 是基于 gorm + SQLite 的持久化事件日志。
type SQLiteStore struct {
	db *gorm.DB
	// 写入串行化，避免并发事务在 SQLite 上互相 BUSY。
	mu  sync.Mutex
	now func() time.Time
}

// OpenSQLite 打开（必要时创建）path 指向的数据库并迁移表结构。
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	if err := db.AutoMigrate(&drawEventRow{}); err != nil {
		return nil, fmt.Errorf("migrate draw_events: %w", err)
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

// Close 释放底层连接。
func (s *SQLiteStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Append 在一个事务内完成 EventID 去重与插入，seq 由自增主键分配。
func (s *SQLiteStore) Append(ctx context.Context, evt *model.DrawEvent) (int64, error) {
	points := evt.Points
	if points == nil {
		points = []model.Point{}
	}
	encoded, err := json.Marshal(points)
	if err != nil {
		return 0, fmt.Errorf("marshal points: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var seq int64
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if evt.EventID != "" {
			var existing drawEventRow
			err := tx.Where("event_id = ?", evt.EventID).Take(&existing).Error
			if err == nil {
				seq = existing.Seq
				return nil
			}
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}
		}

		row := drawEventRow{
			Kind:      string(evt.Kind),
			Tool:      string(evt.Tool),
			Color:     evt.Color,
			Width:     evt.Width,
			Points:    string(encoded),
			CreatedAt: evt.CreatedAt,
		}
		if evt.EventID != "" {
			id := evt.EventID
			row.EventID = &id
		}
		if row.CreatedAt.IsZero() {
			row.CreatedAt = s.now().UTC()
		}
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
		seq = row.Seq
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("append draw event: %w", err)
	}
	return seq, nil
}

// List 返回全部事件，按 seq 升序。
func (s *SQLiteStore) List(ctx context.Context) ([]model.DrawEvent, error) {
	return s.ListAfter(ctx, 0)
}

// ListAfter 返回 seq > after 的事件，单条查询即一致快照。
func (s *SQLiteStore) ListAfter(ctx context.Context, after int64) ([]model.DrawEvent, error) {
	var rows []drawEventRow
	if err := s.db.WithContext(ctx).Where("seq > ?", after).Order("seq asc").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list draw events: %w", err)
	}
	out := make([]model.DrawEvent, 0, len(rows))
	for _, row := range rows {
		evt, err := row.toEvent()
		if err != nil {
			return nil, err
		}
		out = append(out, evt)
	}
	return out, nil
}

func (r drawEventRow) toEvent() (model.DrawEvent, error) {
	evt := model.DrawEvent{
		Seq:       r.Seq,
		Kind:      model.Kind(r.Kind),
		Tool:      model.Tool(r.Tool),
		Color:     r.Color,
		Width:     r.Width,
		CreatedAt: r.CreatedAt,
	}
	if r.EventID != nil {
		evt.EventID = *r.EventID
	}
	if err := json.Unmarshal([]byte(r.Points), &evt.Points); err != nil {
		return model.DrawEvent{}, fmt.Errorf("decode points of seq %d: %w", r.Seq, err)
	}
	return evt, nil
}
