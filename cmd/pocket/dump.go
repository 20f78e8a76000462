package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var dumpCompact bool

var dumpCmd = &cobra.Command{
	Use:   "dump <type>",
	Short: "Print every stored object of a type as a JSON array",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		objects, blobs, err := openStores()
		if err != nil {
			fatal("Failed to open pocket", err)
		}
		defer objects.Close()
		defer blobs.Close()

		records, err := objects.Read(context.Background(), args[0])
		if err != nil {
			fatal("Failed to read "+args[0], err)
		}

		var buf bytes.Buffer
		buf.WriteByte('[')
		for i, r := range records {
			if i > 0 {
				buf.WriteByte(',')
			}
			buf.Write(r.Data)
		}
		buf.WriteByte(']')

		var out bytes.Buffer
		if dumpCompact {
			err = json.Compact(&out, buf.Bytes())
		} else {
			err = json.Indent(&out, buf.Bytes(), "", "  ")
		}
		if err != nil {
			fatal("Invalid stored JSON", err)
		}
		out.WriteByte('\n')
		if _, err := os.Stdout.Write(out.Bytes()); err != nil {
			fatal("Failed to write output", err)
		}
		if len(records) == 0 {
			fmt.Fprintf(os.Stderr, "no objects of type %s\n", args[0])
		}
	},
}

func init() {
	rootCmd.AddCommand(dumpCmd)
	dumpCmd.Flags().BoolVar(&dumpCompact, "compact", false, "Print without indentation")
}
