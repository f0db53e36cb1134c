package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/bdobrica/Hoshi/common/observability"
	"github.com/bdobrica/Hoshi/common/version"
	"github.com/bdobrica/Hoshi/internal/hoshi/app"
	"github.com/bdobrica/Hoshi/internal/hoshi/config"
	"github.com/bdobrica/Hoshi/internal/hoshi/memory"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgFile string
	var cfg *config.Config

	root := &cobra.Command{
		Use:           "hoshi",
		Short:         "Personal assistant bot with long-term memory",
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			v, err := config.NewViper(cfgFile)
			if err != nil {
				return err
			}
			cfg, err = config.Load(v)
			if err != nil {
				return err
			}
			observability.Setup(cfg.Log.Level, cfg.Log.Format)
			return nil
		},
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ./"+config.DefaultConfigFile+" when present)")

	cfgFn := func() *config.Config { return cfg }
	root.AddCommand(newServeCmd(cfgFn))
	root.AddCommand(newMemoryCmd(cfgFn))
	root.AddCommand(newVersionCmd())
	return root
}

func newServeCmd(cfg func() *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the bot on every configured transport",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			fmt.Fprintln(cmd.ErrOrStderr(), version.Info())
			a, err := app.New(ctx, cfg())
			if err != nil {
				return err
			}
			defer a.Close()
			return a.Run(ctx)
		},
	}
}

func newMemoryCmd(cfg func() *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "memory",
		Short: "Inspect and maintain long-term memory",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "migrate <user>",
		Short: "Convert a user's legacy memory files into the structured layout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := app.OpenMemory(cfg())
			if err != nil {
				return err
			}
			res := st.MigrateIfNeeded(cmd.Context(), args[0])
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "status:  %s\n", res.Status)
			if res.Reason != "" {
				fmt.Fprintf(out, "reason:  %s\n", res.Reason)
			}
			if len(res.Sources) > 0 {
				fmt.Fprintf(out, "sources: %s\n", strings.Join(res.Sources, ", "))
			}
			fmt.Fprintf(out, "fields:  %d\nnotes:   %d\n", res.Fields, res.Notes)
			if res.Status == memory.MigrationFailed {
				return fmt.Errorf("migration failed for %s", args[0])
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show <user>",
		Short: "Print the long-term memory block injected into prompts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := app.OpenMemory(cfg())
			if err != nil {
				return err
			}
			block := st.LoadLongTermMemory(cmd.Context(), args[0])
			if strings.TrimSpace(block) == "" {
				fmt.Fprintf(cmd.OutOrStdout(), "No memory stored for %s.\n", args[0])
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), block)
			return nil
		},
	})
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.Info())
		},
	}
}
