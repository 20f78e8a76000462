package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var typesCmd = &cobra.Command{
	Use:   "types",
	Short: "List the stored types with their object counts",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		objects, blobs, err := openStores()
		if err != nil {
			fatal("Failed to open pocket", err)
		}
		defer objects.Close()
		defer blobs.Close()

		types, err := objects.Types(ctx)
		if err != nil {
			fatal("Failed to read index", err)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "TYPE\tOBJECTS\tFILES")
		for _, typeName := range types {
			records, err := objects.Read(ctx, typeName)
			if err != nil {
				fatal("Failed to read "+typeName, err)
			}
			files := make(map[string]bool)
			for _, r := range records {
				files[r.Filename] = true
			}
			fmt.Fprintf(w, "%s\t%d\t%d\n", typeName, len(records), len(files))
		}
		w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(typesCmd)
}
