package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	cc "github.com/ivanpirog/coloredcobra"
	"github.com/pelletier/go-toml"
	"github.com/spf13/cobra"
)

var configPath string

// config holds the file-backed defaults. Flags override it per invocation.
type config struct {
	ProgressEvents int64  `toml:"progress_events"`
	WriteRaw       bool   `toml:"write_raw"`
	Sentinel       string `toml:"sentinel"`
	AliasFile      string `toml:"alias_file"`
}

var cfg config

var rootCmd = &cobra.Command{
	Use:   "saft",
	Short: "Ingest SAF-T audit files into flat tables",
	Long: `saft reads a SAF-T financial audit file (plain, gzipped or zipped XML)
and lands its contents as flat entity tables: accounts, parties, vouchers,
transaction lines, invoices and integrity findings.`,
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		return loadConfig()
	},
}

func loadConfig() error {
	path := configPath
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil
		}
		path = filepath.Join(home, ".saft.toml")
		if _, err := os.Stat(path); err != nil {
			return nil
		}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("config %s: %w", path, err)
	}
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default $HOME/.saft.toml).")
}

// Execute runs the root command. Called once from main.
func Execute() {
	cc.Init(&cc.Config{
		RootCmd:  rootCmd,
		Headings: cc.HiCyan + cc.Bold + cc.Underline,
		Commands: cc.HiYellow + cc.Bold,
		Example:  cc.Italic,
		ExecName: cc.Bold,
		Flags:    cc.Bold,
	})
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
