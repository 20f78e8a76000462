package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	units "github.com/docker/go-units"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

var blobsContainers bool

var blobsCmd = &cobra.Command{
	Use:   "blobs [pattern]",
	Short: "List stored blob paths matching a glob (default **)",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		objects, blobs, err := openStores()
		if err != nil {
			fatal("Failed to open pocket", err)
		}
		defer objects.Close()
		defer blobs.Close()

		if blobsContainers {
			root, err := resolveDir()
			if err != nil {
				fatal("Failed to resolve directory", err)
			}
			names, err := blobs.Containers()
			if err != nil {
				fatal("Failed to list containers", err)
			}
			fsys := afero.NewBasePathFs(afero.NewOsFs(), root)
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "CONTAINER\tSIZE")
			for _, name := range names {
				info, err := fsys.Stat(name)
				if err != nil {
					fatal("Failed to stat "+name, err)
				}
				fmt.Fprintf(w, "%s\t%s\n", name, units.HumanSize(float64(info.Size())))
			}
			w.Flush()
			return
		}

		pattern := "**"
		if len(args) == 1 {
			pattern = args[0]
		}
		paths, err := blobs.Paths(pattern)
		if err != nil {
			fatal("Failed to list blobs", err)
		}
		for _, p := range paths {
			fmt.Println(p)
		}
	},
}

func init() {
	rootCmd.AddCommand(blobsCmd)
	blobsCmd.Flags().BoolVar(&blobsContainers, "containers", false, "List containers and their sizes instead of paths")
}
