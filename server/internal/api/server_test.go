package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"drawsync/server/internal/eventlog"
	"drawsync/server/internal/model"
	"drawsync/server/internal/timeline"

	"github.com/gorilla/websocket"
	"pkt.systems/pslog"
)

func newTestServer(t *testing.T) (*httptest.Server, *eventlog.Log) {
	t.Helper()
	logger := pslog.NewWithOptions(io.Discard, pslog.Options{Mode: pslog.ModeStructured, NoColor: true})
	l := eventlog.New(timeline.NewInMemoryStore(), eventlog.WithLogger(logger))
	srv := httptest.NewServer(NewServer(l, Options{Logger: logger, PingInterval: time.Second}).Routes())
	t.Cleanup(func() {
		l.Close()
		srv.Close()
	})
	return srv, l
}

func postEvent(t *testing.T, base string, body string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Post(base+"/api/events", "application/json", bytes.NewBufferString(body))
	if err != nil {
		t.Fatalf("post event: %v", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, data
}

const blackLine = `{"kind":"stroke","tool":"brush","color":"#000000","width":5,"points":[{"x":0,"y":0},{"x":10,"y":10}]}`

// TestAppendAssignsSequenceNumber 验证追加返回 201 与存储分配的 seq。
// 场景：向空日志追加一条黑线，seq 为 1。
func TestAppendAssignsSequenceNumber(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, data := postEvent(t, srv.URL, blackLine)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", resp.StatusCode, data)
	}
	var out model.AppendResponse
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if out.Seq != 1 {
		t.Fatalf("expected seq 1, got %d", out.Seq)
	}
}

// TestAppendRejectsInvalidEvent 验证非法事件返回 400 且不进入日志。
func TestAppendRejectsInvalidEvent(t *testing.T) {
	srv, l := newTestServer(t)

	for _, body := range []string{
		`{"kind":"stroke","tool":"brush","color":"#000000","width":0,"points":[]}`,
		`{"kind":"undo","points":[]}`,
		`{"kind":"stroke","tool":"spray","width":2,"points":[]}`,
		`not json`,
	} {
		resp, data := postEvent(t, srv.URL, body)
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("expected 400 for %s, got %d: %s", body, resp.StatusCode, data)
		}
	}
	events, err := l.List(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("expected empty log, got %d events", len(events))
	}
}

// TestListReturnsAscendingSnapshot 验证全量拉取按 seq 升序返回。
func TestListReturnsAscendingSnapshot(t *testing.T) {
	srv, _ := newTestServer(t)
	postEvent(t, srv.URL, blackLine)
	postEvent(t, srv.URL, `{"kind":"clear","points":[]}`)

	resp, err := http.Get(srv.URL + "/api/events")
	if err != nil {
		t.Fatalf("get events: %v", err)
	}
	defer resp.Body.Close()
	var out model.ListResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(out.Events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(out.Events))
	}
	if out.Events[0].Seq != 1 || out.Events[0].Kind != model.KindStroke || out.Events[1].Seq != 2 || out.Events[1].Kind != model.KindClear {
		t.Fatalf("unexpected snapshot: %+v", out.Events)
	}
}

// TestStreamCatchUpThenLive 验证 WebSocket 订阅先补发 after 之后的积压，再推送实时事件。
// 场景：已有 seq 1,2；以 after=1 订阅，先收到 2，追加后收到 3。
func TestStreamCatchUpThenLive(t *testing.T) {
	srv, _ := newTestServer(t)
	postEvent(t, srv.URL, blackLine)
	postEvent(t, srv.URL, blackLine)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/events/stream?after=1"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial stream: %v", err)
	}
	defer conn.Close()

	readSeq := func() int64 {
		t.Helper()
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var rec model.StoredRecord
		if err := conn.ReadJSON(&rec); err != nil {
			t.Fatalf("read stream: %v", err)
		}
		return rec.Seq
	}

	if got := readSeq(); got != 2 {
		t.Fatalf("expected catch-up seq 2, got %d", got)
	}
	postEvent(t, srv.URL, `{"kind":"clear","points":[]}`)
	if got := readSeq(); got != 3 {
		t.Fatalf("expected live seq 3, got %d", got)
	}
}

// TestStreamWithoutAfterIsLive 验证不带 after 的订阅只推送之后的事件，并在升级响应中返回 head。
func TestStreamWithoutAfterIsLive(t *testing.T) {
	srv, _ := newTestServer(t)
	postEvent(t, srv.URL, blackLine)
	postEvent(t, srv.URL, blackLine)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/events/stream"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial stream: %v", err)
	}
	defer conn.Close()
	if got := resp.Header.Get(model.HeadHeader); got != "2" {
		t.Fatalf("expected head 2 in upgrade response, got %q", got)
	}

	postEvent(t, srv.URL, `{"kind":"clear","points":[]}`)
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var rec model.StoredRecord
	if err := conn.ReadJSON(&rec); err != nil {
		t.Fatalf("read stream: %v", err)
	}
	if rec.Seq != 3 {
		t.Fatalf("expected first push to be live seq 3, got %d", rec.Seq)
	}
}

func TestStreamRejectsInvalidAfter(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/api/events/stream?after=abc")
	if err != nil {
		t.Fatalf("get stream: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestHealthzReportsHead(t *testing.T) {
	srv, _ := newTestServer(t)
	postEvent(t, srv.URL, blackLine)

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("get healthz: %v", err)
	}
	defer resp.Body.Close()
	var out struct {
		Status string `json:"status"`
		Head   int64  `json:"head"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode healthz: %v", err)
	}
	if out.Status != "ok" || out.Head != 1 {
		t.Fatalf("unexpected healthz: %+v", out)
	}
}
