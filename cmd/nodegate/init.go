package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/blockberries/nodegate/config"
)

var (
	initDataDir  string
	initBackend  string
	initSecret   bool
	initOverride bool
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default configuration",
	Long: `Write a default configuration file and create the data directory.

This command creates:
  - config.toml: gateway configuration
  - data/: block store directory for disk backends

Example:
  nodegate init --data-dir ./gw --backend badgerdb --generate-secret`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().StringVar(&initDataDir, "data-dir", ".", "directory for configuration and data")
	initCmd.Flags().StringVar(&initBackend, "backend", "leveldb", "block store backend (memory, leveldb, badgerdb)")
	initCmd.Flags().BoolVar(&initSecret, "generate-secret", false, "generate a random shared secret")
	initCmd.Flags().BoolVar(&initOverride, "force", false, "override existing configuration")
}

func runInit(cmd *cobra.Command, args []string) error {
	dataDir := initDataDir
	if dataDir == "" {
		dataDir = "."
	}

	configPath := filepath.Join(dataDir, "config.toml")
	if _, err := os.Stat(configPath); err == nil && !initOverride {
		return fmt.Errorf("config.toml already exists; use --force to override")
	}

	cfg := config.DefaultConfig()
	cfg.BlockStore.Backend = initBackend
	cfg.BlockStore.Path = filepath.Join(dataDir, "data", "blockstore")
	if initSecret {
		secret, err := generateSecret()
		if err != nil {
			return fmt.Errorf("generating secret: %w", err)
		}
		cfg.Auth.Secret = secret
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.EnsureDataDirs(); err != nil {
		return err
	}
	if err := config.WriteConfigFile(configPath, cfg); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Initialized nodegate\n")
	fmt.Fprintf(out, "  Config:      %s\n", configPath)
	fmt.Fprintf(out, "  Backend:     %s\n", cfg.BlockStore.Backend)
	fmt.Fprintf(out, "  Listen:      %s\n", cfg.Gateway.ListenAddr())
	if initSecret {
		fmt.Fprintf(out, "  Secret:      %s\n", cfg.Auth.Secret)
	}

	return nil
}

// generateSecret returns 32 random bytes, hex encoded.
func generateSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
