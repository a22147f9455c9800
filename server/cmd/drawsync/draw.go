package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"drawsync/server/internal/bridge"
	"drawsync/server/internal/canvas"
	"drawsync/server/internal/model"

	"pkt.systems/pslog"
)

func newDrawCmd() *cobra.Command {
	var flags clientFlags
	var tool, color string
	var width float64
	var clear bool
	cmd := &cobra.Command{
		Use:   "draw [x,y ...]",
		Short: "Draw one stroke through the given points, or clear the canvas",
		Example: `  drawsync draw 10,10 200,10 200,200
  drawsync draw --tool eraser --width 20 50,50 150,150
  drawsync draw --clear`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg := configFrom(cmd)
			if !clear && len(args) == 0 {
				return errors.New("draw needs at least one point or --clear")
			}
			points, err := parsePoints(args)
			if err != nil {
				return err
			}
			baseURL, err := flags.resolve(ctx, cfg)
			if err != nil {
				return err
			}

			client := newClient(ctx, cfg, baseURL, canvas.NewRaster(cfg.Client.Width, cfg.Client.Height))
			defer func() { _ = client.Close() }()
			if err := client.Join(ctx); err != nil {
				return err
			}

			var eventID string
			if clear {
				eventID, err = client.Clear()
			} else {
				eventID, err = drawStroke(client, bridge.Pen{Tool: model.Tool(tool), Color: color, Width: width}, points)
			}
			if err != nil {
				return err
			}
			if eventID == "" {
				return errors.New("no event produced")
			}

			waitCtx, cancel := context.WithTimeout(ctx, cfg.Client.AppendTimeout+cfg.Client.SettleTime)
			defer cancel()
			if err := waitConfirmed(waitCtx, client, eventID); err != nil {
				return fmt.Errorf("event %s not confirmed: %w", eventID, err)
			}
			pslog.Ctx(ctx).Info("event appended", "event_id", eventID, "clear", clear, "points", len(points))
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&tool, "tool", string(bridge.DefaultPen.Tool), "brush | eraser")
	cmd.Flags().StringVar(&color, "color", bridge.DefaultPen.Color, "stroke color (#rrggbb)")
	cmd.Flags().Float64Var(&width, "width", bridge.DefaultPen.Width, "stroke width in pixels")
	cmd.Flags().BoolVar(&clear, "clear", false, "append a clear event instead of a stroke")
	return cmd
}

// strokeDrawer 是 draw 命令用到的手势接口。
type strokeDrawer interface {
	SetPen(bridge.Pen) error
	BeginStroke(model.Point) error
	ExtendStroke(model.Point) error
	EndStroke() (string, error)
}

// drawStroke 按给定点画一笔，返回提交事件的 EventID。
func drawStroke(d strokeDrawer, pen bridge.Pen, points []model.Point) (string, error) {
	if err := d.SetPen(pen); err != nil {
		return "", err
	}
	if err := d.BeginStroke(points[0]); err != nil {
		return "", err
	}
	for _, p := range points[1:] {
		if err := d.ExtendStroke(p); err != nil {
			return "", err
		}
	}
	return d.EndStroke()
}

func parsePoints(args []string) ([]model.Point, error) {
	points := make([]model.Point, 0, len(args))
	for _, arg := range args {
		xs, ys, ok := strings.Cut(arg, ",")
		if !ok {
			return nil, fmt.Errorf("point %q: expected x,y", arg)
		}
		x, err := strconv.ParseFloat(strings.TrimSpace(xs), 64)
		if err != nil {
			return nil, fmt.Errorf("point %q: %w", arg, err)
		}
		y, err := strconv.ParseFloat(strings.TrimSpace(ys), 64)
		if err != nil {
			return nil, fmt.Errorf("point %q: %w", arg, err)
		}
		points = append(points, model.Point{X: x, Y: y})
	}
	return points, nil
}
