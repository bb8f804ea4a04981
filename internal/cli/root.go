package cli

import "github.com/spf13/cobra"

func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "approvald",
		Short: "Ledger approval workflow service",
	}

	cmd.Flags().String("config", "config.yaml", "Path to config file")
	return cmd
}
