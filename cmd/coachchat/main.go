package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/golang/glog"
	"github.com/spf13/cobra"

	"coachchat/internal/chat"
	"coachchat/internal/config"
	"coachchat/internal/metrics"
	"coachchat/internal/storage"
	"coachchat/internal/transport"
	"coachchat/internal/ui"
	"coachchat/internal/version"
	"coachchat/internal/wire"
)

var configPath string // overridable via --config flag

func main() {
	// glog writes to files under the data dir so it never fights the TUI
	// for the terminal.
	flag.Set("log_dir", config.DefaultDataDir())
	flag.Set("logtostderr", "false")
	// cobra owns os.Args; glog only needs the flag set marked parsed.
	flag.CommandLine.Parse([]string{})
	defer glog.Flush()

	root := &cobra.Command{
		Use:   "coachchat",
		Short: "Terminal chat client for the coaching platform",
		RunE:  runChat,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.yaml (default: per-user data dir)")

	root.AddCommand(listCmd())
	root.AddCommand(versionCmd())
	root.AddCommand(updateCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	store, err := openStore(cfg.DBPath)
	if err != nil {
		// The client still works without local unread persistence.
		glog.Warningf("local store unavailable: %v", err)
		store = nil
	}
	if store != nil {
		defer store.Close()
	}

	if cfg.MetricsAddr != "" {
		metrics.Serve(cfg.MetricsAddr)
	}

	glog.Infof("coachchat v%s starting, role=%s channel=%s", version.Current, cfg.Role, cfg.Channel)
	return ui.Run(cfg, store)
}

func listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Print the conversation list and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			adapter := transport.NewAdapter(cfg.ServerURL)
			ctx := cmd.Context()
			if err := adapter.Connect(ctx, transport.FileTokenResolver(cfg.TokenPath)); err != nil {
				return err
			}
			defer adapter.Close()

			filter := wire.ListFilter{IncludeParticipants: true}
			if chat.Role(cfg.Role) == chat.RoleStudent {
				filter.ParticipantType = wire.TypeCliente
				filter.ExternalID = cfg.StudentCode
			} else {
				filter.ParticipantType = wire.TypeEquipo
			}

			summaries, err := adapter.List(ctx, filter)
			if err != nil {
				return err
			}
			chat.SortSummaries(summaries)
			for _, summary := range summaries {
				fmt.Printf("%s  participants=%d unread=%d\n",
					summary.ChatID, len(summary.Participants), summary.Unread)
			}
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the client version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("coachchat v%s\n", version.Current)
			if newer, latest, err := version.CheckForUpdate(); err == nil && newer {
				fmt.Printf("A newer version is available: v%s (run `coachchat update`)\n", latest)
			}
		},
	}
}

func updateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "update",
		Short: "Update the client to the latest release",
		RunE: func(cmd *cobra.Command, args []string) error {
			return version.UpdateToLatest()
		},
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func openStore(path string) (*storage.Store, error) {
	store, err := storage.NewStore(path)
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(context.Background()); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}
