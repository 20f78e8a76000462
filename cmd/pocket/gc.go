package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/aretw0/pocket/pkg/codec"
	"github.com/aretw0/pocket/pkg/core"
	"github.com/aretw0/pocket/pkg/entity"
)

var gcDryRun bool

var gcCmd = &cobra.Command{
	Use:   "gc",
	Short: "Drop blob payloads that no stored Blob object refers to",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		objects, blobs, err := openStores()
		if err != nil {
			fatal("Failed to open pocket", err)
		}
		defer objects.Close()
		defer blobs.Close()

		records, err := objects.Read(ctx, core.BlobTypeName)
		if err != nil {
			fatal("Failed to read blob objects", err)
		}

		c := codec.New(entity.NewRegistry(slog.Default()), codec.Options{})
		live := make([]*core.Blob, 0, len(records))
		keep := make(map[string]bool, len(records))
		for _, r := range records {
			obj, err := c.Decode(r.Data, core.BlobTypeName, nil, nil)
			if err != nil {
				fatal("Failed to decode blob object", err)
			}
			b := obj.(*core.Blob)
			b.Attach(blobs)
			live = append(live, b)
			keep[b.Key()] = true
		}

		stored, err := blobs.Paths("**")
		if err != nil {
			fatal("Failed to list blobs", err)
		}
		var garbage []string
		for _, p := range stored {
			if !keep[p] {
				garbage = append(garbage, p)
			}
		}

		if gcDryRun {
			for _, p := range garbage {
				fmt.Println("would drop", p)
			}
			fmt.Printf("%d live, %d unreferenced\n", len(stored)-len(garbage), len(garbage))
			return
		}
		if len(garbage) == 0 {
			fmt.Println("nothing to collect")
			return
		}

		if len(live) == 0 {
			err = blobs.Delete(ctx)
		} else {
			err = blobs.Cleanup(ctx, live)
		}
		if err != nil {
			fatal("Failed to collect blobs", err)
		}
		fmt.Printf("dropped %d unreferenced blobs\n", len(garbage))
	},
}

func init() {
	rootCmd.AddCommand(gcCmd)
	gcCmd.Flags().BoolVar(&gcDryRun, "dry-run", false, "Only report what would be dropped")
}
