package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/dshills/coderag-mcp/internal/config"
	"github.com/dshills/coderag-mcp/internal/mcp"
	"github.com/dshills/coderag-mcp/internal/storage"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version and build information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(titleStyle.Render(mcp.ServerName))
		fmt.Println(field("version", version))
		fmt.Println(field("build time", buildTime))
		fmt.Println(field("build mode", storage.BuildMode))
		fmt.Println(field("sqlite driver", storage.DriverName))
		fmt.Println(field("vector extension", storage.VectorExtensionAvailable))
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		redacted := *cfg
		redacted.Embed.APIKey = mask(cfg.Embed.APIKey)
		redacted.Rerank.APIKey = mask(cfg.Rerank.APIKey)
		redacted.Qdrant.APIKey = mask(cfg.Qdrant.APIKey)
		if flagJSON {
			return printJSON(redacted)
		}
		enc := yaml.NewEncoder(os.Stdout)
		enc.SetIndent(2)
		defer func() { _ = enc.Close() }()
		return enc.Encode(redacted)
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default configuration file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := flagConfig
		if path == "" {
			path = config.DefaultPath()
		}
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists", path)
		}
		if err := config.Save(path, config.Default()); err != nil {
			return err
		}
		fmt.Println(successStyle.Render("wrote ") + path)
		return nil
	},
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	return "********"
}

func init() {
	configCmd.AddCommand(configInitCmd)
	rootCmd.AddCommand(versionCmd, configCmd)
}
