package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ledgerworks/approvald/internal/approval"
)

// NewValidateCommand checks a workflow definition document offline, so
// definitions can be linted in CI before they are registered.
func NewValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <definition.json>",
		Short: "Validate a workflow definition document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			def, err := approval.DecodeDefinition(data)
			if err != nil {
				return err
			}
			for i := range def.Nodes {
				if def.Nodes[i].ID == "" {
					def.Nodes[i].ID = fmt.Sprintf("n%d", def.Nodes[i].OrderIndex)
				}
			}
			if err := approval.ValidateDefinition(def); err != nil {
				return err
			}
			cmd.Printf("%s: ok (%d nodes)\n", args[0], len(def.Nodes))
			return nil
		},
	}
}
