package main

import (
	"fmt"
	"net"

	"github.com/spf13/cobra"

	"drawsync/server/internal/api"
	"drawsync/server/internal/config"
	"drawsync/server/internal/discovery"
	"drawsync/server/internal/eventlog"
	"drawsync/server/internal/timeline"

	"pkt.systems/pslog"
)

func newServeCmd() *cobra.Command {
	var advertise bool
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the event log server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := pslog.Ctx(ctx)
			cfg := configFrom(cmd)
			if advertise {
				cfg.Discovery.Enabled = true
			}
			if addr == "" {
				addr = cfg.Addr()
			}

			store, closeStore, err := openStore(cfg.Store)
			if err != nil {
				return err
			}
			defer func() { _ = closeStore() }()
			logger.Info("event store opened", "driver", cfg.Store.Driver, "path", cfg.Store.Path)

			evlog := eventlog.New(store,
				eventlog.WithLogger(logger),
				eventlog.WithBuffer(cfg.Server.SubscriberBuffer),
			)
			defer evlog.Close()
			head, err := evlog.Head(ctx)
			if err != nil {
				return err
			}

			server := api.NewServer(evlog, api.Options{
				PingInterval:   cfg.Server.PingInterval,
				AllowedOrigins: cfg.Server.AllowedOrigins,
				Logger:         logger,
			})

			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("listen %s: %w", addr, err)
			}
			port := ln.Addr().(*net.TCPAddr).Port
			logger.Info("drawsync server listening", "addr", ln.Addr().String(), "head", head)

			if cfg.Discovery.Enabled {
				adv, err := discovery.Advertise(ctx, discovery.AdvertiseConfig{
					Instance: cfg.Discovery.Instance,
					Service:  cfg.Discovery.Service,
					Domain:   cfg.Discovery.Domain,
					Port:     port,
				})
				if err != nil {
					logger.Warn("mdns advertise failed", "err", err)
				} else {
					defer func() { _ = adv.Shutdown() }()
				}
			}

			return api.Serve(ctx, ln, server.Routes(), api.Timeouts{
				Read:  cfg.Server.ReadTimeout,
				Write: cfg.Server.WriteTimeout,
			})
		},
	}
	cmd.Flags().BoolVar(&advertise, "mdns", false, "advertise the server on the local network")
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.host/server.port)")
	return cmd
}

func openStore(cfg config.StoreConfig) (timeline.Store, func() error, error) {
	switch cfg.Driver {
	case "sqlite":
		store, err := timeline.OpenSQLite(cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	default:
		return timeline.NewInMemoryStore(), func() error { return nil }, nil
	}
}
