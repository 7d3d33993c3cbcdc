package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ccengram/ccengram/internal/daemon"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report daemon status",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newClient()
		if !client.IsRunning() {
			fmt.Println(color.RedString("daemon not running"))
			return &exitCodeError{code: ExitUnreachable, err: fmt.Errorf("daemon not running")}
		}

		var out map[string]any
		if err := client.Call(cmd.Context(), daemon.MethodStatus, nil, &out); err != nil {
			return err
		}
		if flagJSON {
			return json.NewEncoder(os.Stdout).Encode(out)
		}
		fmt.Println(color.GreenString("daemon running"))
		fmt.Printf("pid: %v\nuptime: %vs\nprojects: %v\nembedding: %v\n",
			out["pid"], out["uptime_seconds"], out["projects_loaded"], out["embedding_model"])
		return nil
	},
}

var shutdownCmd = &cobra.Command{
	Use:   "shutdown",
	Short: "Stop the daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newClient()
		if !client.IsRunning() {
			return unreachable(fmt.Errorf("daemon not running"))
		}
		var out map[string]any
		if err := client.Call(cmd.Context(), daemon.MethodShutdown, nil, &out); err != nil {
			return err
		}
		fmt.Println(color.GreenString("daemon shutting down"))
		return nil
	},
}

// hookCmd dispatches a hook event read from stdin to the daemon. Hook failures exit 0 so a broken daemon never blocks the
// assistant.
var hookCmd = &cobra.Command{
	Use:   "hook <hook_name>",
	Short: "Dispatch a hook event (reads the payload from stdin)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newClient()
		if !client.IsRunning() {
			return nil // silently succeed; hooks must never break the caller
		}

		p := cwdParams()
		p["hook_name"] = args[0]
		if data, err := io.ReadAll(os.Stdin); err == nil && len(data) > 0 {
			var payload map[string]any
			if json.Unmarshal(data, &payload) == nil {
				for k, v := range payload {
					p[k] = v
				}
			}
		}

		var out map[string]any
		if err := client.Call(cmd.Context(), daemon.MethodHook, p, &out); err != nil {
			fmt.Fprintln(os.Stderr, "hook failed:", err)
			return nil
		}
		if flagJSON {
			return json.NewEncoder(os.Stdout).Encode(out)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd, shutdownCmd, hookCmd)
}
