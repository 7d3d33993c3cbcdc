package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ccengram/ccengram/internal/daemon"
)

var (
	searchScope     string
	searchLimit     int
	searchExpandTop int
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Explore the project's code, memories, and documents",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSearch,
}

func init() {
	searchCmd.Flags().StringVar(&searchScope, "scope", "all", "code, memory, docs, or all")
	searchCmd.Flags().IntVar(&searchLimit, "limit", 10, "maximum results")
	searchCmd.Flags().IntVar(&searchExpandTop, "expand", 0, "inline context for the first N results")
	rootCmd.AddCommand(searchCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	client := newClient()
	if !client.IsRunning() {
		return unreachable(fmt.Errorf("start it with 'ccengram daemon'"))
	}

	p := cwdParams()
	p["query"] = args[0]
	p["scope"] = searchScope
	p["limit"] = searchLimit
	p["expand_top"] = searchExpandTop
	if !flagJSON {
		p["format"] = "text"
	}

	var out struct {
		Results []struct {
			ID         string  `json:"id"`
			ResultType string  `json:"result_type"`
			File       string  `json:"file"`
			Lines      []int   `json:"lines"`
			Preview    string  `json:"preview"`
			Score      float64 `json:"score"`
		} `json:"results"`
		Suggestions []string `json:"suggestions"`
		Text        string   `json:"text"`
	}
	if err := client.Call(cmd.Context(), daemon.MethodExplore, p, &out); err != nil {
		return err
	}

	if flagJSON {
		return json.NewEncoder(os.Stdout).Encode(out)
	}
	if out.Text != "" {
		fmt.Println(out.Text)
		return nil
	}

	for _, r := range out.Results {
		head := color.CyanString("%-6s", r.ResultType) + " " + color.YellowString(r.ID[:8])
		if r.File != "" {
			head += " " + r.File
			if len(r.Lines) == 2 {
				head += fmt.Sprintf(":%d-%d", r.Lines[0], r.Lines[1])
			}
		}
		fmt.Printf("%s  (%.3f)\n  %s\n", head, r.Score, r.Preview)
	}
	if len(out.Suggestions) > 0 {
		fmt.Println(color.HiBlackString("try also: %v", out.Suggestions))
	}
	return nil
}
