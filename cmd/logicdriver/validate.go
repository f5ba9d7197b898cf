package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/anggasct/logicdriver/pkg/definition"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>",
		Short: "check every machine in a definition file",
		Long: `
Loads the YAML file and reports every problem found in its machines: unknown
transition endpoints, duplicate names, missing entry states, unknown or cyclic
references.
`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			lib, err := definition.LoadFile(args[0])
			if err != nil {
				return err
			}
			if err := lib.Validate(); err != nil {
				return err
			}
			for _, name := range lib.Names() {
				def, _ := lib.Get(name)
				fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (%d nodes)\n", name, def.NodeCount())
			}
			return nil
		},
	}
}
