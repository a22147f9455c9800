package codec

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"drawsync/server/internal/model"
)

var (
	// ErrInvalidEvent 表示事件未通过校验：本地丢弃，绝不提交。
	ErrInvalidEvent = errors.New("invalid event")
	// ErrUnknownKind/ErrUnknownTool 在解码时拒绝未知取值，而不是静默强转。
	ErrUnknownKind = errors.New("unknown event kind")
	ErrUnknownTool = errors.New("unknown stroke tool")
)

// EncodeStroke 构造一个未分配序号的 stroke 事件；points 会被拷贝。
func EncodeStroke(tool model.Tool, color string, width float64, points []model.Point) model.DrawEvent {
	pts := make([]model.Point, len(points))
	copy(pts, points)
	return model.DrawEvent{
		Kind:   model.KindStroke,
		Tool:   tool,
		Color:  color,
		Width:  width,
		Points: pts,
	}
}

// EncodeClear 构造一个 clear 事件，所有空间/样式字段为空。
func EncodeClear() model.DrawEvent {
	return model.DrawEvent{Kind: model.KindClear, Points: []model.Point{}}
}

// Validate 校验事件：stroke 的宽度必须为正且有限，所有坐标必须有限。
func Validate(evt model.DrawEvent) error {
	switch evt.Kind {
	case model.KindStroke:
		if !evt.Tool.Valid() {
			return fmt.Errorf("%w: %w %q", ErrInvalidEvent, ErrUnknownTool, evt.Tool)
		}
		if !(evt.Width > 0) || math.IsInf(evt.Width, 0) {
			return fmt.Errorf("%w: width must be positive, got %v", ErrInvalidEvent, evt.Width)
		}
	case model.KindClear:
	default:
		return fmt.Errorf("%w: %w %q", ErrInvalidEvent, ErrUnknownKind, evt.Kind)
	}
	for i, p := range evt.Points {
		if !finite(p.X) || !finite(p.Y) {
			return fmt.Errorf("%w: point %d is not finite", ErrInvalidEvent, i)
		}
	}
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// ToAppendRecord 把事件转换为发往存储的追加记录（不带序号）。
func ToAppendRecord(evt model.DrawEvent) model.AppendRecord {
	rec := model.AppendRecord{
		EventID: evt.EventID,
		Kind:    evt.Kind,
		Points:  evt.Points,
	}
	if evt.Kind == model.KindStroke {
		rec.Tool = evt.Tool
		rec.Width = evt.Width
		if evt.Tool == model.ToolBrush {
			rec.Color = evt.Color
		}
	}
	if rec.Points == nil {
		rec.Points = []model.Point{}
	}
	return rec
}

// FromAppendRecord 把追加记录还原为未分配序号的事件。
func FromAppendRecord(rec model.AppendRecord) model.DrawEvent {
	return model.DrawEvent{
		EventID: rec.EventID,
		Kind:    rec.Kind,
		Tool:    rec.Tool,
		Color:   rec.Color,
		Width:   rec.Width,
		Points:  rec.Points,
	}
}

// ToStoredRecord 把已分配序号的事件转换为存储/广播记录。
func ToStoredRecord(evt model.DrawEvent) model.StoredRecord {
	rec := ToAppendRecord(evt)
	return model.StoredRecord{
		Seq:       evt.Seq,
		EventID:   rec.EventID,
		Kind:      rec.Kind,
		Tool:      rec.Tool,
		Color:     rec.Color,
		Width:     rec.Width,
		Points:    rec.Points,
		CreatedAt: evt.CreatedAt,
	}
}

// FromStoredRecord 把存储/广播记录还原为事件。
func FromStoredRecord(rec model.StoredRecord) model.DrawEvent {
	return model.DrawEvent{
		Seq:       rec.Seq,
		EventID:   rec.EventID,
		Kind:      rec.Kind,
		Tool:      rec.Tool,
		Color:     rec.Color,
		Width:     rec.Width,
		Points:    rec.Points,
		CreatedAt: rec.CreatedAt,
	}
}

// Encode 生成追加记录的 JSON 线格式。
func Encode(evt model.DrawEvent) ([]byte, error) {
	data, err := json.Marshal(ToAppendRecord(evt))
	if err != nil {
		return nil, fmt.Errorf("marshal append record: %w", err)
	}
	return data, nil
}

// Decode 解析追加记录，拒绝未知 kind/tool。
func Decode(data []byte) (model.DrawEvent, error) {
	var rec model.AppendRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return model.DrawEvent{}, fmt.Errorf("unmarshal append record: %w", err)
	}
	evt := FromAppendRecord(rec)
	if err := checkEnums(evt); err != nil {
		return model.DrawEvent{}, err
	}
	return evt, nil
}

// DecodeStored 解析存储/广播记录，拒绝未知 kind/tool 以及缺失的序号。
func DecodeStored(data []byte) (model.DrawEvent, error) {
	var rec model.StoredRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return model.DrawEvent{}, fmt.Errorf("unmarshal stored record: %w", err)
	}
	return CheckStored(rec)
}

// CheckStored 校验一条已解析的存储记录并转换为事件。
func CheckStored(rec model.StoredRecord) (model.DrawEvent, error) {
	evt := FromStoredRecord(rec)
	if err := checkEnums(evt); err != nil {
		return model.DrawEvent{}, err
	}
	if evt.Seq <= 0 {
		return model.DrawEvent{}, fmt.Errorf("stored record without sequence number")
	}
	return evt, nil
}

func checkEnums(evt model.DrawEvent) error {
	if !evt.Kind.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownKind, evt.Kind)
	}
	if evt.Kind == model.KindStroke && !evt.Tool.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownTool, evt.Tool)
	}
	return nil
}
