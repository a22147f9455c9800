package discovery

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/mdns"
	"pkt.systems/pslog"
)

const (
	DefaultService = "_drawsync._tcp"
	DefaultDomain  = "local."
	protoVersion   = "1"
)

// Service 是在局域网中发现的一个事件日志服务。
type Service struct {
	Instance string
	Host     string
	Addr     net.IP
	Port     int
	Info     map[string]string
}

// URL 返回可直接交给日志客户端与订阅的基础地址。
func (s Service) URL() string {
	return "http://" + net.JoinHostPort(s.Addr.String(), strconv.Itoa(s.Port))
}

// Advertiser 在局域网内广播本机的事件日志服务。
type Advertiser struct {
	server *mdns.Server
}

type AdvertiseConfig struct {
	// Instance 为空时使用主机名。
	Instance string
	Service  string
	Domain   string
	Port     int
}

// Advertise 开始广播；调用方负责 Shutdown。
func Advertise(ctx context.Context, cfg AdvertiseConfig) (*Advertiser, error) {
	instance := cfg.Instance
	if instance == "" {
		host, err := os.Hostname()
		if err != nil {
			return nil, fmt.Errorf("could not get hostname: %w", err)
		}
		instance = host
	}
	service := cfg.Service
	if service == "" {
		service = DefaultService
	}

	zone, err := mdns.NewMDNSService(instance, service, cfg.Domain, "", cfg.Port, nil, txtRecords())
	if err != nil {
		return nil, fmt.Errorf("create mdns service: %w", err)
	}
	server, err := mdns.NewServer(&mdns.Config{Zone: zone})
	if err != nil {
		return nil, fmt.Errorf("start mdns server: %w", err)
	}
	pslog.Ctx(ctx).Info("mdns advertising", "instance", instance, "service", service, "port", cfg.Port)
	return &Advertiser{server: server}, nil
}

func (a *Advertiser) Shutdown() error {
	return a.server.Shutdown()
}

// Browse 在 timeout 内查询局域网中的服务，按发现顺序返回并去重。
func Browse(ctx context.Context, service, domain string, timeout time.Duration) ([]Service, error) {
	if service == "" {
		service = DefaultService
	}
	if domain == "" {
		domain = DefaultDomain
	}
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < timeout {
			timeout = left
		}
	}

	entries := make(chan *mdns.ServiceEntry, 16)
	var found []Service
	seen := make(map[string]bool)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for e := range entries {
			svc, ok := fromEntry(e)
			if !ok {
				continue
			}
			key := svc.URL()
			if seen[key] {
				continue
			}
			seen[key] = true
			found = append(found, svc)
		}
	}()

	err := mdns.Query(&mdns.QueryParam{
		Service:     service,
		Domain:      strings.TrimSuffix(domain, "."),
		Timeout:     timeout,
		Entries:     entries,
		DisableIPv6: true,
	})
	close(entries)
	<-done
	if err != nil {
		return nil, fmt.Errorf("mdns query %s: %w", service, err)
	}
	return found, nil
}

func fromEntry(e *mdns.ServiceEntry) (Service, bool) {
	if e == nil || e.AddrV4 == nil || e.Port == 0 {
		return Service{}, false
	}
	return Service{
		Instance: instanceName(e.Name),
		Host:     e.Host,
		Addr:     e.AddrV4,
		Port:     e.Port,
		Info:     parseTXT(e.InfoFields),
	}, true
}

func txtRecords() []string {
	return []string{"app=drawsync", "version=" + protoVersion, "api=/api/events"}
}

func parseTXT(fields []string) map[string]string {
	out := make(map[string]string, len(fields))
	for _, f := range fields {
		k, v, _ := strings.Cut(f, "=")
		if k != "" {
			out[k] = v
		}
	}
	return out
}

// instanceName 从 "My-Laptop._drawsync._tcp.local." 中取出实例名。
func instanceName(full string) string {
	name, _, _ := strings.Cut(full, "._")
	return strings.ReplaceAll(name, `\ `, " ")
}
