package main

import (
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/fx"

	"github.com/ledgerworks/approvald/internal/approval"
	"github.com/ledgerworks/approvald/internal/cli"
	"github.com/ledgerworks/approvald/internal/config"
	"github.com/ledgerworks/approvald/internal/httpserver"
	"github.com/ledgerworks/approvald/internal/logging"
	"github.com/ledgerworks/approvald/internal/metrics"
	"github.com/ledgerworks/approvald/internal/otel"
)

func main() {
	rootCmd := cli.NewRootCommand()
	rootCmd.AddCommand(cli.NewValidateCommand())

	rootCmd.RunE = func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		startServer(configPath)
		return nil
	}

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func startServer(configPath string) {
	app := fx.New(
		config.Module(configPath),
		logging.Module(),
		otel.Module("approvald"),
		metrics.Module(),
		approval.Module(),
		httpserver.Module(),
	)

	app.Run()
}
