package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mrmushfiq/llm0-freetier-router/internal/gateway/providers"
)

func newAskCmd(logLevel *string) *cobra.Command {
	var (
		systemContext string
		maxTokens     int
		temperature   float32
		verbose       bool
	)

	cmd := &cobra.Command{
		Use:   "ask <prompt>",
		Short: "Send one prompt through the provider chain and print the answer",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(*logLevel, "warn")
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			// One call never repeats a prompt
			cfg.Cache.Enabled = false
			manager, _ := newRouter(cfg, logger)

			res, err := manager.Generate(ctx, providers.GenerateRequest{
				Prompt:      strings.Join(args, " "),
				Context:     systemContext,
				MaxTokens:   maxTokens,
				Temperature: temperature,
			})
			if errors.Is(err, providers.ErrAllProvidersExhausted) {
				fmt.Fprintln(cmd.OutOrStdout(), providers.UnavailableMessage)
				return err
			}
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), res.Text)
			if verbose {
				fmt.Fprintf(cmd.ErrOrStderr(), "provider=%s attempted=%s failover=%t latency=%s\n",
					res.Provider, strings.Join(res.Attempted, ","), res.Failover, res.Latency)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&systemContext, "context", "", "system context sent ahead of the prompt")
	cmd.Flags().IntVar(&maxTokens, "max-tokens", 500, "maximum tokens to generate")
	cmd.Flags().Float32Var(&temperature, "temperature", 0.7, "sampling temperature")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "print routing details to stderr")
	return cmd
}
