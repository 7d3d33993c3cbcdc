package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ccengram/ccengram/internal/daemon"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Control the project file watcher",
}

func watchCall(cmd *cobra.Command, method string) error {
	client := newClient()
	if !client.IsRunning() {
		return unreachable(fmt.Errorf("start it with 'ccengram daemon'"))
	}

	var out map[string]any
	if err := client.Call(cmd.Context(), method, cwdParams(), &out); err != nil {
		return err
	}
	if flagJSON {
		return json.NewEncoder(os.Stdout).Encode(out)
	}
	switch method {
	case daemon.MethodWatchStart:
		fmt.Println(color.GreenString("watcher running"))
		if pid, ok := out["holder_pid"]; ok && pid != nil {
			fmt.Printf("held by pid %v\n", pid)
		}
	case daemon.MethodWatchStop:
		fmt.Println(color.GreenString("watcher stopped"))
	default:
		running, _ := out["running"].(bool)
		if running {
			fmt.Println(color.GreenString("running"), "indexed:", out["indexed_files"])
		} else {
			fmt.Println(color.YellowString("not running"))
		}
	}
	return nil
}

var watchStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start watching the project",
	RunE:  func(cmd *cobra.Command, args []string) error { return watchCall(cmd, daemon.MethodWatchStart) },
}

var watchStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the project watcher",
	RunE:  func(cmd *cobra.Command, args []string) error { return watchCall(cmd, daemon.MethodWatchStop) },
}

var watchStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report watcher status",
	RunE:  func(cmd *cobra.Command, args []string) error { return watchCall(cmd, daemon.MethodWatchStatus) },
}

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Run a full (resumable) code index of the project",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newClient()
		if !client.IsRunning() {
			return unreachable(fmt.Errorf("start it with 'ccengram daemon'"))
		}
		var out map[string]any
		if err := client.Call(cmd.Context(), daemon.MethodCodeIndex, cwdParams(), &out); err != nil {
			return err
		}
		if flagJSON {
			return json.NewEncoder(os.Stdout).Encode(out)
		}
		fmt.Printf("indexed %v, skipped %v, errors %v (resumed=%v)\n",
			out["indexed"], out["skipped"], out["errors"], out["resumed"])
		return nil
	},
}

func init() {
	watchCmd.AddCommand(watchStartCmd, watchStopCmd, watchStatusCmd)
	rootCmd.AddCommand(watchCmd, indexCmd)
}
