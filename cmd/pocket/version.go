package main

import (
	"fmt"
	"strings"

	"github.com/aretw0/pocket"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of pocket",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("pocket version %s\n", strings.TrimSpace(pocket.Version))
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
