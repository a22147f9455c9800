package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"drawsync/server/internal/canvas"
	"drawsync/server/internal/export"
	"drawsync/server/internal/logclient"
	"drawsync/server/internal/model"
	"drawsync/server/internal/replay"

	"pkt.systems/pslog"
)

func newExportCmd() *cobra.Command {
	var flags clientFlags
	var out, format string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Fetch the full log once and write it as PDF (one page per clear) or PNG",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg := configFrom(cmd)
			baseURL, err := flags.resolve(ctx, cfg)
			if err != nil {
				return err
			}
			events, err := logclient.New(baseURL).FetchAll(ctx)
			if err != nil {
				return err
			}
			if format == "" {
				format = strings.TrimPrefix(filepath.Ext(out), ".")
			}
			if err := writeExport(events, format, out, cfg.Client.Width, cfg.Client.Height); err != nil {
				return err
			}
			pslog.Ctx(ctx).Info("log exported", "out", out, "format", format, "events", len(events))
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVarP(&out, "out", "o", "canvas.pdf", "output path")
	cmd.Flags().StringVar(&format, "format", "", "pdf | png (default from the output extension)")
	return cmd
}

func writeExport(events []model.DrawEvent, format, out string, width, height int) error {
	switch format {
	case "pdf":
		f, err := os.Create(out)
		if err != nil {
			return fmt.Errorf("create %s: %w", out, err)
		}
		if err := export.Render(events, width, height).Write(f); err != nil {
			_ = f.Close()
			return err
		}
		return f.Close()
	case "png":
		raster := canvas.NewRaster(width, height)
		replay.New(raster).ApplyAll(events)
		return raster.SavePNG(out)
	default:
		return fmt.Errorf("unsupported export format %q", format)
	}
}
