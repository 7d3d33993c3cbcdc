package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ccengram/ccengram/internal/daemon"
)

var memoryCmd = &cobra.Command{
	Use:   "memory",
	Short: "Manage project memories",
}

var (
	memAddSector     string
	memAddImportance float64
	memAddTags       []string
	memListLimit     int
	memListSector    string
)

var memoryAddCmd = &cobra.Command{
	Use:   "add <content>",
	Short: "Add a memory",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newClient()
		if !client.IsRunning() {
			return unreachable(fmt.Errorf("start it with 'ccengram daemon'"))
		}

		p := cwdParams()
		p["content"] = strings.Join(args, " ")
		p["sector"] = memAddSector
		p["importance"] = memAddImportance
		if len(memAddTags) > 0 {
			p["tags"] = memAddTags
		}

		var out struct {
			ID          string `json:"id"`
			IsDuplicate bool   `json:"is_duplicate"`
		}
		if err := client.Call(cmd.Context(), daemon.MethodMemoryAdd, p, &out); err != nil {
			return err
		}
		if out.IsDuplicate {
			fmt.Println(color.YellowString("duplicate"), out.ID)
		} else {
			fmt.Println(color.GreenString("added"), out.ID)
		}
		return nil
	},
}

var memoryListCmd = &cobra.Command{
	Use:   "list",
	Short: "List memories",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newClient()
		if !client.IsRunning() {
			return unreachable(fmt.Errorf("start it with 'ccengram daemon'"))
		}

		p := cwdParams()
		p["limit"] = memListLimit
		if memListSector != "" {
			p["sector"] = memListSector
		}

		var out struct {
			Memories []struct {
				ID       string  `json:"id"`
				Content  string  `json:"content"`
				Sector   string  `json:"sector"`
				Salience float64 `json:"salience"`
			} `json:"memories"`
		}
		if err := client.Call(cmd.Context(), daemon.MethodMemoryList, p, &out); err != nil {
			return err
		}
		if flagJSON {
			return json.NewEncoder(os.Stdout).Encode(out)
		}
		for _, m := range out.Memories {
			content := m.Content
			if len(content) > 80 {
				content = content[:80] + "…"
			}
			fmt.Printf("%s %s %.2f  %s\n",
				color.YellowString(m.ID[:8]), color.CyanString("%-10s", m.Sector), m.Salience, content)
		}
		return nil
	},
}

var memoryGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Show one memory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newClient()
		if !client.IsRunning() {
			return unreachable(fmt.Errorf("start it with 'ccengram daemon'"))
		}

		p := cwdParams()
		p["id"] = args[0]
		var out map[string]any
		if err := client.Call(cmd.Context(), daemon.MethodMemoryGet, p, &out); err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	},
}

var memoryDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Soft-delete a memory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newClient()
		if !client.IsRunning() {
			return unreachable(fmt.Errorf("start it with 'ccengram daemon'"))
		}

		p := cwdParams()
		p["id"] = args[0]
		var out map[string]any
		if err := client.Call(cmd.Context(), daemon.MethodMemoryDelete, p, &out); err != nil {
			return err
		}
		fmt.Println(color.GreenString("deleted"), out["id"])
		return nil
	},
}

func init() {
	memoryAddCmd.Flags().StringVar(&memAddSector, "sector", "semantic", "memory sector")
	memoryAddCmd.Flags().Float64Var(&memAddImportance, "importance", 0.5, "importance 0-1")
	memoryAddCmd.Flags().StringSliceVar(&memAddTags, "tag", nil, "tags (repeatable)")
	memoryListCmd.Flags().IntVar(&memListLimit, "limit", 50, "maximum rows")
	memoryListCmd.Flags().StringVar(&memListSector, "sector", "", "filter by sector")

	memoryCmd.AddCommand(memoryAddCmd, memoryListCmd, memoryGetCmd, memoryDeleteCmd)
	rootCmd.AddCommand(memoryCmd)
}
