package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"orchbench/internal/scenario"
)

var scenariosCmd = &cobra.Command{
	Use:   "scenarios",
	Short: "List the registered benchmark scenarios",
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := scenario.DefaultRegistry()
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tCATEGORY\tNODES\tDECLARED\tK8S\tDESCRIPTION")
		for spec := range reg.List() {
			k8s := ""
			if spec.RequiresK8s {
				k8s = "yes"
			}
			fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%s\n",
				spec.ID, spec.Category, len(spec.Graph.Nodes), spec.Graph.DeclaredTotal(), k8s, spec.Description)
		}
		return tw.Flush()
	},
}
