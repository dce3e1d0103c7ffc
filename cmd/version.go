package cmd

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

// Version is the service release, set with -ldflags at build time
var Version = "dev"

// BuildInfo contains information about the build
var BuildInfo struct {
	GitCommit string
	BuildTime string
}

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Display version information",
	Long:  `Display the version, build information, and runtime environment of the telemetry service.`,
	// Skips config loading from the root command
	PersistentPreRun: func(cmd *cobra.Command, args []string) {},
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprint(cmd.OutOrStdout(), versionString())
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

func versionString() string {
	commit := BuildInfo.GitCommit
	if commit == "" {
		commit = "unknown"
	}
	built := BuildInfo.BuildTime
	if built == "" {
		built = "unknown"
	}

	return fmt.Sprintf("Telemetry Service\n"+
		"=================\n"+
		"Version:    %s\n"+
		"Git Commit: %s\n"+
		"Built:      %s\n"+
		"Go Version: %s\n"+
		"OS/Arch:    %s/%s\n",
		Version, commit, built, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}
