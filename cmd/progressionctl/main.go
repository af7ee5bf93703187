// Command progressionctl is the admin CLI of the progression engine. It runs
// awards, streak completions, resets and reseeds against the configured
// store and prints results as JSON.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/redmansion/progression-engine/config"
)

var (
	envFile        string
	driverOverride string
	correlationID  string

	cfg *config.Config

	rootCmd = &cobra.Command{
		Use:           "progressionctl",
		Short:         "Administer user progression: XP, levels, streaks and resets",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig()
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "env file to load before the environment (default ./.env if present)")
	rootCmd.PersistentFlags().StringVar(&driverOverride, "driver", "", "store driver override: memory, sqlite or postgres")
	rootCmd.PersistentFlags().StringVar(&correlationID, "correlation-id", "", "correlation id attached to events (default: random)")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig() error {
	var files []string
	if envFile != "" {
		files = append(files, envFile)
	}

	loaded, err := config.Load(files...)
	if err != nil {
		return err
	}
	if driverOverride != "" {
		loaded.Store.Driver = config.StoreDriver(driverOverride)
		if err := loaded.Validate(); err != nil {
			return fmt.Errorf("config validation: %w", err)
		}
	}
	if correlationID == "" {
		correlationID = uuid.NewString()
	}

	cfg = loaded
	return nil
}

// withApp builds the application for one command and tears it down after.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	a, err := newApp(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := a.operationContext(cmd.Context())
	defer cancel()

	return fn(ctx, a)
}
