package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/aretw0/pocket/internal/platform"
	"github.com/aretw0/pocket/pkg/git"
)

var initGit bool

const defaultConfig = `# pocket settings; explicit options in code take precedence.
pretty: true
serialize_nulls: false
backup: true
max_backup_size: 250MB
max_container_size: 50MB
# filenames:
#   model.Person: people
`

// initCmd represents the init command
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a pocket directory with a default pocket.yaml",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		target := dir
		if target == "" {
			wd, err := os.Getwd()
			if err != nil {
				fatal("Failed to get CWD", err)
			}
			target = wd
		}
		if err := os.MkdirAll(target, 0755); err != nil {
			fatal("Failed to create directory", err)
		}

		cfgPath := filepath.Join(target, platform.ConfigFile)
		if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
			if err := os.WriteFile(cfgPath, []byte(defaultConfig), 0644); err != nil {
				fatal("Failed to write config", err)
			}
		}

		if initGit {
			if err := git.NewClient(target, slog.Default()).Init(); err != nil {
				fatal("Failed to initialize git", err)
			}
		}

		fmt.Println("Initialized pocket in", target)
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().BoolVar(&initGit, "git", false, "Also initialize a git repository for versioning")
}
