package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/javi11/nzbinspect/internal/config"
	"github.com/javi11/nzbinspect/internal/pool"
)

func init() {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
	}

	var force bool
	initCmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write a default configuration file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "config.yaml"
			if len(args) == 1 {
				path = args[0]
			} else if configFile != "" {
				path = configFile
			}
			return runConfigInit(cmd, path, force)
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")

	testCmd := &cobra.Command{
		Use:   "test",
		Short: "Validate the configuration and open one session to the provider",
		RunE:  runConfigTest,
	}

	configCmd.AddCommand(initCmd, testCmd)
	rootCmd.AddCommand(configCmd)
}

func runConfigInit(cmd *cobra.Command, path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("%s already exists, use --force to overwrite", path)
	}

	if err := config.SaveToFile(config.DefaultConfig(), path); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Configuration written to %s\nSet provider.host, username and password before running 'nzbinspect serve'.\n", path)
	return nil
}

func runConfigTest(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	timeout := cfg.Provider.ConnectTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := pool.TestProvider(ctx, cfg); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Connected to %s as %q\n", cfg.ToNNTPOptions().Address(), cfg.Provider.Username)
	return nil
}
