package main

import (
	"encoding/json"
	"io"
	"log/slog"

	"github.com/ggoodman/mcp-sse-server/config"
	"github.com/ggoodman/mcp-sse-server/mcp"
	"github.com/spf13/cobra"
)

func newToolsCmd() *cobra.Command {
	var manifest string
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "Print the tool and resource catalog as JSON",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(func(c *config.Config) {
				flagString(cmd, "manifest", &c.ToolManifest, manifest)
			})
			if err != nil {
				return err
			}
			// Catalog output goes to stdout; keep logs quiet.
			log := slog.New(slog.NewTextHandler(io.Discard, nil))
			a, err := buildApp(cmd.Context(), cfg, log, new(slog.LevelVar))
			if err != nil {
				return err
			}
			out := struct {
				Tools             []mcp.Tool             `json:"tools"`
				Resources         []mcp.Resource         `json:"resources"`
				ResourceTemplates []mcp.ResourceTemplate `json:"resourceTemplates"`
			}{a.reg.Tools(), a.reg.Resources(), a.reg.ResourceTemplates()}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
	cmd.Flags().StringVar(&manifest, "manifest", "", "YAML tool manifest path (MCP_TOOL_MANIFEST)")
	return cmd
}
