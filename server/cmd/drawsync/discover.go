package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"drawsync/server/internal/discovery"
)

func newDiscoverCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "discover",
		Short: "List drawsync servers advertised on the local network",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := configFrom(cmd)
			found, err := discovery.Browse(cmd.Context(), cfg.Discovery.Service, cfg.Discovery.Domain, cfg.Discovery.Timeout)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if len(found) == 0 {
				_, _ = fmt.Fprintln(w, "no servers found")
				return nil
			}
			sort.Slice(found, func(i, j int) bool { return found[i].Instance < found[j].Instance })
			for _, svc := range found {
				_, _ = fmt.Fprintf(w, "%s\t%s\tversion=%s\n", svc.Instance, svc.URL(), svc.Info["version"])
			}
			return nil
		},
	}
}
