package cmd

import (
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/ccengram/ccengram/internal/config"
	"github.com/ccengram/ccengram/internal/embed"
	"github.com/ccengram/ccengram/internal/logging"
	"github.com/ccengram/ccengram/internal/mcp"
	"github.com/ccengram/ccengram/internal/registry"
	"github.com/ccengram/ccengram/pkg/version"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve MCP tools over stdio for the current project",
	RunE:  runMCP,
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}

func runMCP(cmd *cobra.Command, args []string) error {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	cwd := flagCwd
	if cwd == "" {
		cwd, err = os.Getwd()
		if err != nil {
			return err
		}
	}
	if projCfg, err := config.LoadForProject(cfg, cwd); err == nil {
		cfg = projCfg
	}

	// stdout belongs to the MCP transport; logs go to file only.
	dataRoot := config.DataRoot()
	cleanup, err := logging.SetupDefault(logging.Config{
		Level:         cfg.Logging.Level,
		FilePath:      logging.LogPath(dataRoot),
		MaxSizeMB:     cfg.Logging.MaxSizeMB,
		MaxFiles:      cfg.Logging.MaxFiles,
		WriteToStderr: false,
	})
	if err != nil {
		return err
	}
	defer cleanup()

	provider := embed.NewFromConfig(cfg.Embedding)
	reg, err := registry.New(dataRoot, cfg, provider, slog.Default())
	if err != nil {
		return err
	}
	defer reg.CloseAll()

	server := mcp.NewServer(reg, cwd, version.Version, slog.Default())
	return server.Run(cmd.Context())
}
