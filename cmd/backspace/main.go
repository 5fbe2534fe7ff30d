// backspace turns a natural-language prompt into a pull request: it clones
// the target repository into an isolated workspace, generates and applies
// the change, and opens the PR, streaming progress as it goes.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "backspace",
	Short: "Prompt-to-pull-request coding agent",
	Long: `backspace accepts a repository URL and a natural-language prompt,
makes the requested change in an isolated workspace, and opens a pull
request with the result.

Run "backspace serve" for the HTTP API or "backspace run" for a one-shot
change from the command line.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file (YAML)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
