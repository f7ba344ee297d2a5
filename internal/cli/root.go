package cli

import (
	"github.com/spf13/cobra"
)

var serverURL string

var rootCmd = &cobra.Command{
	Use:   "promptgate",
	Short: "PromptGate - security gateway client",
	Long: `PromptGate is a security gateway that sits between untrusted text and a
generative model backend, screening input for prompt injection and
jailbreak attempts and filtering output for context leakage.

This client talks to a running gateway over its HTTP API.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080", "Gateway base URL")
}

func Execute() error {
	return rootCmd.Execute()
}
