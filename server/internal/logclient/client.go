package logclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"drawsync/server/internal/codec"
	"drawsync/server/internal/model"
)

// ErrUnordered 表示全量拉取的结果不是严格按 seq 升序，快照不可信。
var ErrUnordered = errors.New("snapshot not strictly ascending")

// AppendError 表示一次追加没有被存储接受：连接失败或被拒绝。
// 调用方不应自动重试；用同一个 EventID 重新提交是安全的。
type AppendError struct {
	EventID string
	// Status 为 0 表示请求没有得到响应（连接失败、超时）。
	Status int
	Body   string
	Err    error
}

func (e *AppendError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("append %s rejected: status=%d body=%s", e.EventID, e.Status, e.Body)
	}
	return fmt.Sprintf("append %s failed: %v", e.EventID, e.Err)
}

func (e *AppendError) Unwrap() error {
	return e.Err
}

// Rejected 报告存储是否明确拒绝了该事件（4xx），这类事件重试也不会成功。
func (e *AppendError) Rejected() bool {
	return e.Status >= 400 && e.Status < 500
}

// Client 是事件日志服务的 HTTP 客户端。
type Client struct {
	HTTPClient *http.Client
	BaseURL    string // 例如 http://127.0.0.1:8080
}

func New(baseURL string) *Client {
	return &Client{
		HTTPClient: &http.Client{Timeout: 15 * time.Second},
		BaseURL:    strings.TrimRight(baseURL, "/"),
	}
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient == nil {
		return http.DefaultClient
	}
	return c.HTTPClient
}

// Append 提交一个事件，成功时返回存储分配的 seq。
func (c *Client) Append(ctx context.Context, evt model.DrawEvent) (int64, error) {
	body, err := codec.Encode(evt)
	if err != nil {
		return 0, &AppendError{EventID: evt.EventID, Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/api/events", bytes.NewReader(body))
	if err != nil {
		return 0, &AppendError{EventID: evt.EventID, Err: fmt.Errorf("new request: %w", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient().Do(httpReq)
	if err != nil {
		return 0, &AppendError{EventID: evt.EventID, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		limited, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return 0, &AppendError{
			EventID: evt.EventID,
			Status:  resp.StatusCode,
			Body:    strings.TrimSpace(string(limited)),
			Err:     fmt.Errorf("unexpected status %d", resp.StatusCode),
		}
	}

	var out model.AppendResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, &AppendError{EventID: evt.EventID, Status: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	if out.Seq <= 0 {
		return 0, &AppendError{EventID: evt.EventID, Status: resp.StatusCode, Err: errors.New("response without sequence number")}
	}
	return out.Seq, nil
}

// FetchAll 返回当前一致快照，保证严格按 seq 升序。可与实时订阅并发调用。
func (c *Client) FetchAll(ctx context.Context) ([]model.DrawEvent, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/api/events", nil)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	resp, err := c.httpClient().Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("fetch events: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		limited, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("fetch events: status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(limited)))
	}

	var out model.ListResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode events: %w", err)
	}

	events := make([]model.DrawEvent, 0, len(out.Events))
	var prev int64
	for _, rec := range out.Events {
		evt, err := codec.CheckStored(rec)
		if err != nil {
			return nil, fmt.Errorf("fetch events: %w", err)
		}
		if evt.Seq <= prev {
			return nil, fmt.Errorf("%w: seq %d after %d", ErrUnordered, evt.Seq, prev)
		}
		prev = evt.Seq
		events = append(events, evt)
	}
	return events, nil
}
