package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newRecommendCmd(flags *globalFlags) *cobra.Command {
	var (
		topK    int
		jsonOut bool
	)
	cmd := &cobra.Command{
		Use:   "recommend <product-id>",
		Short: "List products similar to a product",
		Long: `List the products most similar to the given one.

Vector similarity is used when the product has been synced and the vector
store is reachable; otherwise products are ranked by category, price,
rating and tag overlap.

Examples:
  simctl recommend sku-1234
  simctl recommend sku-1234 -k 5 --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, cleanup, err := openApp(cmd.Context(), flags)
			if err != nil {
				return err
			}
			defer cleanup()

			res, err := a.Facade.Recommend(cmd.Context(), args[0], topK)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if jsonOut {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(res)
			}
			fmt.Fprintln(out, renderRecommendations(args[0], res))
			return nil
		},
	}
	cmd.Flags().IntVarP(&topK, "top-k", "k", 0, "number of results (0 uses recommend.default_top_k)")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print the result as JSON")
	return cmd
}
