package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(modelsCmd)
}

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List the models of every configured provider",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		r, _, err := openRelay(cmd)
		if err != nil {
			return err
		}
		defer r.Close()

		models, err := r.Router.ListModels(cmd.Context())
		if err != nil {
			return fmt.Errorf("list models: %w", err)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "PROVIDER\tMODEL")
		for _, m := range models {
			fmt.Fprintf(w, "%s\t%s\n", m.Provider, m.ID)
		}
		return w.Flush()
	},
}
