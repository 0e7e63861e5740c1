package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/clusterfs/fleetmgmtd/pkg/config"
)

var initForce bool

const defaultConfigPath = "/etc/mgmtd/config.yaml"

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a sample configuration file",
	Long: `Write a sample mgmtd configuration file with built-in defaults applied.

By default the file is created at /etc/mgmtd/config.yaml; use --config to
pick a custom path.`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "overwrite an existing config file")
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	path := GetConfigFile()
	if path == "" {
		path = defaultConfigPath
	}

	if !initForce {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists; pass --force to overwrite", path)
		}
	}

	cfg, err := config.Load("")
	if err != nil {
		return fmt.Errorf("building default config: %w", err)
	}
	if err := config.SaveConfig(cfg, path); err != nil {
		return fmt.Errorf("writing default config: %w", err)
	}

	cmd.Printf("Configuration file written to: %s\n", path)
	cmd.Println("Edit it, then start the daemon with: mgmtd start --config " + path)
	return nil
}
