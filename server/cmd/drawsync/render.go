package main

import (
	"github.com/spf13/cobra"

	"drawsync/server/internal/canvas"

	"pkt.systems/pslog"
)

func newRenderCmd() *cobra.Command {
	var flags clientFlags
	var out string
	cmd := &cobra.Command{
		Use:   "render",
		Short: "Join the canvas as a live client and save what it shows as PNG",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg := configFrom(cmd)
			baseURL, err := flags.resolve(ctx, cfg)
			if err != nil {
				return err
			}

			raster := canvas.NewRaster(cfg.Client.Width, cfg.Client.Height)
			client := newClient(ctx, cfg, baseURL, raster)
			defer func() { _ = client.Close() }()
			if err := client.Join(ctx); err != nil {
				return err
			}
			if err := waitSettled(ctx, client, cfg.Client.SettleTime); err != nil {
				return err
			}

			st, err := client.Status(ctx)
			if err != nil {
				return err
			}
			if err := client.View(ctx, func() error {
				return raster.SavePNG(out)
			}); err != nil {
				return err
			}
			pslog.Ctx(ctx).Info("canvas rendered", "out", out, "seq", st.Last, "digest", raster.Digest())
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVarP(&out, "out", "o", "canvas.png", "output png path")
	return cmd
}
