package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/anggasct/logicdriver/visualization"
)

func newDotCmd() *cobra.Command {
	var (
		machine string
		output  string
		rankDir string
	)
	cmd := &cobra.Command{
		Use:   "dot <file>",
		Short: "render a machine as Graphviz DOT",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, def, err := loadMachine(args[0], machine)
			if err != nil {
				return err
			}
			opts := visualization.DefaultDOTOptions()
			opts.RankDirection = rankDir
			gen := visualization.NewDOTGenerator(def, opts)
			if output != "" {
				return gen.GenerateToFile(output)
			}
			out, err := gen.Generate()
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), out)
			return nil
		},
	}
	cmd.Flags().StringVar(&machine, "machine", "", "machine to render (default: the first one)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "write to a file instead of stdout")
	cmd.Flags().StringVar(&rankDir, "rankdir", "TB", "graph direction (TB, LR, BT, RL)")
	return cmd
}
