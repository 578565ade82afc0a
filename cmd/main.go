package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"skyhub/internal/app"
	"skyhub/internal/config"
	"skyhub/internal/config/logger"
)

// main is the entry point for the server
func main() {
	if err := buildRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// buildRootCommand constructs the CLI surface
func buildRootCommand() *cobra.Command {
	var (
		configPath string
		logLevel   string
	)

	root := &cobra.Command{
		Use:           config.ServerName,
		Short:         "Ground control server for UAV fleets",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(configPath, logLevel)
		},
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to the config file")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level override")

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the server version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s %s\n", config.ServerName, config.Version)
		},
	})

	return root
}

// serve loads the configuration and runs the fx application until a signal
// arrives
func serve(configPath, logLevel string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	application := createApp(cfg)
	application.Run()

	return nil
}

// createApp creates the FX application with the given config
func createApp(cfg *config.Config) *fx.App {
	return fx.New(
		fx.WithLogger(createFxLogger()),
		fx.Supply(cfg),
		logger.Module,
		app.Module,
	)
}

// createFxLogger silences the fx bootstrap chatter
func createFxLogger() func() fxevent.Logger {
	return func() fxevent.Logger {
		return fxevent.NopLogger
	}
}
