package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	// Version is the daemon version (overridden by ldflags at build time)
	Version = "0.4.0"
	// Build can be set via ldflags at compile time
	Build = "dev"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		printVersion()
	},
}

func printVersion() {
	name := color.New(color.FgCyan, color.Bold).Sprint("twd")
	fmt.Printf("%s version %s (%s)\n", name, Version, color.New(color.Faint).Sprint(Build))
}
