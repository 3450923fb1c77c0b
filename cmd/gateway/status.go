package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newStatusCmd(logLevel *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show configured providers, credential pools and cache settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(*logLevel, "warn")
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			manager, _ := newRouter(cfg, logger)
			out := cmd.OutOrStdout()

			fmt.Fprintf(out, "Priority: %s\n\n", strings.Join(manager.Priority(), " -> "))

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "PROVIDER\tAVAILABLE\tMODEL\tACCOUNTS\tDAILY LIMIT\tREMAINING")
			for _, s := range manager.ProviderStatus() {
				name := s.Name
				if !s.InPriority {
					name += " (unlisted)"
				}
				limit, remaining := "unlimited", "-"
				if s.DailyLimit > 0 {
					limit = fmt.Sprintf("%d", s.DailyLimit)
					remaining = fmt.Sprintf("%d", s.Remaining)
				}
				fmt.Fprintf(w, "%s\t%t\t%s\t%d\t%s\t%s\n",
					name, s.Available, s.Model, s.Accounts, limit, remaining)
			}
			if err := w.Flush(); err != nil {
				return err
			}

			fmt.Fprintln(out)
			if !cfg.Cache.Enabled {
				fmt.Fprintln(out, "Cache: disabled")
				return nil
			}
			fmt.Fprintf(out, "Cache: %s, max %d entries, ttl %s\n",
				cfg.Cache.EvictionPolicy, cfg.Cache.MaxSize, cfg.Cache.TTL)
			return nil
		},
	}
}
