// Command twd is the taskwire sync daemon: it owns the project
// database and serves connected clients over a unix socket and HTTP.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/taskwire/taskwire/internal/config"
)

var (
	socketPath string
	dbPath     string
	httpAddr   string
	logFile    string
	logLevel   string
)

func init() {
	if err := config.Initialize(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to initialize config: %v\n", err)
	}

	rootCmd.PersistentFlags().StringVar(&socketPath, "socket", "", "Unix socket path (default: $XDG_RUNTIME_DIR/taskwire/twd.sock)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "Database path (default: ~/.local/share/taskwire/taskwire.db)")
	rootCmd.PersistentFlags().StringVar(&httpAddr, "http-addr", "", "HTTP listen address (empty disables the HTTP surface)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Log file path (empty logs to stderr)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")

	rootCmd.Flags().BoolP("version", "v", false, "Print version information")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

var rootCmd = &cobra.Command{
	Use:   "twd",
	Short: "twd - Taskwire sync daemon",
	Long:  `Real-time synchronization daemon for shared project boards: work items, sprints, comments, and a live activity feed.`,
	Run: func(cmd *cobra.Command, args []string) {
		if v, _ := cmd.Flags().GetBool("version"); v {
			printVersion()
			return
		}
		_ = cmd.Help()
	},
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// Priority: flags > config file + TASKWIRE_* env > defaults
		if !cmd.Flags().Changed("socket") && socketPath == "" {
			socketPath = config.GetString("socket")
		}
		if !cmd.Flags().Changed("db") && dbPath == "" {
			dbPath = config.GetString("db")
		}
		if !cmd.Flags().Changed("http-addr") && httpAddr == "" {
			httpAddr = config.GetString("http-addr")
		}
		if !cmd.Flags().Changed("log-file") && logFile == "" {
			logFile = config.GetString("log-file")
		}
		if !cmd.Flags().Changed("log-level") && logLevel == "" {
			logLevel = config.GetString("log-level")
		}

		if socketPath == "" {
			socketPath = defaultSocketPath()
		}
		if dbPath == "" {
			dbPath = defaultDBPath()
		}
	},
}

func defaultSocketPath() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "taskwire", "twd.sock")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "taskwire", "twd.sock")
	}
	return filepath.Join(home, ".taskwire", "twd.sock")
}

func defaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "taskwire.db")
	}
	return filepath.Join(home, ".local", "share", "taskwire", "taskwire.db")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
