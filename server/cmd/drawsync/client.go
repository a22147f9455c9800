package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"drawsync/server/internal/config"
	"drawsync/server/internal/discovery"
	"drawsync/server/internal/feed"
	"drawsync/server/internal/logclient"
	"drawsync/server/internal/orchestrator"
	"drawsync/server/internal/replay"

	"pkt.systems/pslog"
)

// clientFlags 是 render/draw/export 共用的连接参数。
type clientFlags struct {
	server   string
	discover bool
}

func (f *clientFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.server, "server", "", "server base url (overrides client.server_url)")
	cmd.Flags().BoolVar(&f.discover, "discover", false, "locate the server via mdns")
}

// resolve 决定要连接的服务地址：--server 优先，其次 mDNS，最后是配置。
func (f *clientFlags) resolve(ctx context.Context, cfg *config.Config) (string, error) {
	if f.server != "" {
		return f.server, nil
	}
	if f.discover {
		found, err := discovery.Browse(ctx, cfg.Discovery.Service, cfg.Discovery.Domain, cfg.Discovery.Timeout)
		if err != nil {
			return "", err
		}
		if len(found) == 0 {
			return "", errors.New("no drawsync server found on the local network")
		}
		pslog.Ctx(ctx).Info("server discovered", "instance", found[0].Instance, "url", found[0].URL())
		return found[0].URL(), nil
	}
	return cfg.Client.ServerURL, nil
}

func newClient(ctx context.Context, cfg *config.Config, baseURL string, surface replay.Surface) *orchestrator.Client {
	return orchestrator.New(logclient.New(baseURL), feed.New(baseURL), surface, orchestrator.Options{
		QueueSize:     cfg.Client.QueueSize,
		AppendTimeout: cfg.Client.AppendTimeout,
		FeedOptions:   []feed.Option{feed.WithBackoff(cfg.Feed.ReconnectMin, cfg.Feed.ReconnectMax)},
		Logger:        pslog.Ctx(ctx),
	})
}

// waitSettled 等待直到在 settle 时长内没有新事件且没有缓冲中的事件。
func waitSettled(ctx context.Context, c *orchestrator.Client, settle time.Duration) error {
	poll := settle / 5
	if poll <= 0 {
		poll = 10 * time.Millisecond
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	last := int64(-1)
	quietSince := time.Now()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		st, err := c.Status(ctx)
		if err != nil {
			return err
		}
		if st.Last != last {
			last = st.Last
			quietSince = time.Now()
			continue
		}
		if st.Pending == 0 && time.Since(quietSince) >= settle {
			return nil
		}
	}
}

// confirmSource 是 waitConfirmed 用到的客户端接口。
type confirmSource interface {
	Notices() <-chan orchestrator.Notice
	Status(context.Context) (orchestrator.Status, error)
}

// waitConfirmed 等待 eventID 对应事件被存储接受并在本地回放。
// 其他写入者的事件推进 Last 不算确认；该事件的追加失败或被拒绝时返回错误。
func waitConfirmed(ctx context.Context, c confirmSource, eventID string) error {
	var seq int64
	for seq == 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case notice := <-c.Notices():
			if notice.EventID != eventID {
				continue
			}
			switch notice.Kind {
			case orchestrator.NoticeAppended:
				seq = notice.Seq
			case orchestrator.NoticeAppendFailed, orchestrator.NoticeInvalidEvent:
				return fmt.Errorf("%s: %w", notice.Kind, notice.Err)
			}
		}
	}

	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		st, err := c.Status(ctx)
		if err != nil {
			return err
		}
		if st.Last >= seq {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
