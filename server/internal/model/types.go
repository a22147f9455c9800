package model

import "time"

// Kind 表示绘图事件的种类。
type Kind string

const (
	KindStroke Kind = "stroke"
	KindClear  Kind = "clear"
)

// Valid 判断 Kind 是否为已知取值。
func (k Kind) Valid() bool {
	return k == KindStroke || k == KindClear
}

// Tool 表示笔画使用的工具，仅在 Kind 为 stroke 时有意义。
type Tool string

const (
	ToolBrush  Tool = "brush"
	ToolEraser Tool = "eraser"
)

// Valid 判断 Tool 是否为已知取值。
func (t Tool) Valid() bool {
	return t == ToolBrush || t == ToolEraser
}

// Point 是画布像素坐标系中的一个点。
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Style 描述一条折线的绘制样式，由回放引擎交给 Surface。
type Style struct {
	Color string
	Width float64
}

// DrawEvent 表示事件日志中的一个绘图事件，写入后不可变。
type DrawEvent struct {
	// Seq 由存储在追加时分配，全局严格递增；追加前为 0，客户端从不设置。
	Seq int64 `json:"sequence_number,omitempty"`
	// EventID 用于追加幂等，客户端可传 UUID；相同 EventID 返回同一个 Seq。
	EventID string `json:"event_id,omitempty"`

	Kind Kind `json:"kind"`
	// Tool/Color/Width 只对 stroke 有意义；eraser 忽略 Color，clear 全部忽略。
	Tool  Tool    `json:"tool,omitempty"`
	Color string  `json:"color,omitempty"`
	Width float64 `json:"width,omitempty"`
	// Points 少于 2 个点的 stroke 可以存储，但回放时不产生可见痕迹。
	Points []Point `json:"points"`

	// CreatedAt 由存储补齐，不参与排序，Seq 才是权威顺序。
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// Clone 返回深拷贝，避免调用方共享 Points 底层数组。
func (e DrawEvent) Clone() DrawEvent {
	out := e
	if e.Points != nil {
		out.Points = make([]Point, len(e.Points))
		copy(out.Points, e.Points)
	}
	return out
}

// AppendRecord 是发往存储的追加记录，不包含序号。
type AppendRecord struct {
	EventID string  `json:"event_id,omitempty"`
	Kind    Kind    `json:"kind"`
	Tool    Tool    `json:"tool,omitempty"`
	Color   string  `json:"color,omitempty"`
	Width   float64 `json:"width,omitempty"`
	Points  []Point `json:"points"`
}

// StoredRecord 是存储返回或广播的记录：追加记录加上序号与创建时间。
type StoredRecord struct {
	Seq       int64     `json:"sequence_number"`
	EventID   string    `json:"event_id,omitempty"`
	Kind      Kind      `json:"kind"`
	Tool      Tool      `json:"tool,omitempty"`
	Color     string    `json:"color,omitempty"`
	Width     float64   `json:"width,omitempty"`
	Points    []Point   `json:"points"`
	CreatedAt time.Time `json:"created_at"`
}

// HeadHeader 是推送流升级响应中的头，给出订阅登记时日志的最新 seq。
const HeadHeader = "X-Drawsync-Head"

// AppendResponse 是追加成功后的响应体。
type AppendResponse struct {
	Seq int64 `json:"sequence_number"`
}

// ListResponse 是全量拉取的响应体，Events 按 Seq 升序。
type ListResponse struct {
	Events []StoredRecord `json:"events"`
}
