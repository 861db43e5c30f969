package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/dshills/chronicle/internal/providers"
)

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "Model provider management",
}

type providerInfo struct {
	Name string
	// Env lists the variables the provider reads; the first is required
	// unless the provider runs locally.
	Env    []string
	Local  bool
	Models []string
}

var knownProviders = []providerInfo{
	{
		Name:   "anthropic",
		Env:    []string{"ANTHROPIC_API_KEY"},
		Models: []string{"claude-sonnet-4-20250514", "claude-opus-4-20250514", "claude-3-5-haiku-latest"},
	},
	{
		Name:   "openai",
		Env:    []string{"OPENAI_API_KEY", "CHRONICLE_OPENAI_BASE_URL"},
		Models: []string{"gpt-4.1", "gpt-4.1-mini", "o3-mini"},
	},
	{
		Name:   "gemini",
		Env:    []string{"GEMINI_API_KEY", "GOOGLE_API_KEY"},
		Models: []string{"gemini-2.5-pro", "gemini-2.5-flash"},
	},
	{
		Name:   "ollama",
		Env:    []string{"OLLAMA_HOST", "CHRONICLE_LOCAL_API_KEY"},
		Local:  true,
		Models: []string{"llama3.3", "qwen2.5-coder", "deepseek-coder-v2"},
	},
	{
		Name:   "lmstudio",
		Env:    []string{"LMSTUDIO_HOST", "CHRONICLE_LOCAL_API_KEY"},
		Local:  true,
		Models: []string{"qwen2.5-coder-7b-instruct"},
	},
}

func (p providerInfo) configured() bool {
	if p.Local {
		return true
	}
	for _, k := range p.Env {
		if k == "CHRONICLE_OPENAI_BASE_URL" {
			continue
		}
		if os.Getenv(k) != "" {
			return true
		}
	}
	return false
}

var providersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List supported providers, their environment and example models",
	Run: func(cmd *cobra.Command, args []string) {
		for _, info := range knownProviders {
			status := "not configured"
			if info.configured() {
				status = "configured"
			}
			fmt.Fprintf(os.Stdout, "%s (%s)\n", info.Name, status)
			fmt.Fprintf(os.Stdout, "  env: %v\n", info.Env)
			for _, m := range info.Models {
				fmt.Fprintf(os.Stdout, "  - %s\n", m)
			}
			fmt.Fprintln(os.Stdout)
		}
	},
}

var providersDoctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Validate provider credentials with a one-token request",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		fmt.Fprintf(os.Stdout, "Checking %s (%s)...\n", cfg.Provider, cfg.Model)

		p, err := providers.New(cfg.Provider, cfg.Model)
		if err != nil {
			fmt.Fprintf(os.Stderr, "FAIL: %v\n", err)
			exitCode = ExitAuthError
			return nil
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		_, err = p.Complete(ctx, providers.Request{
			System:    "Respond with exactly: ok",
			Prompt:    "ping",
			MaxTokens: 10,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "FAIL: %v\n", err)
			if providers.IsAuthError(err) {
				exitCode = ExitAuthError
			} else {
				exitCode = ExitRuntimeError
			}
			return nil
		}

		fmt.Fprintf(os.Stdout, "OK: %s is configured and responding\n", cfg.Provider)
		return nil
	},
}

func init() {
	providersCmd.AddCommand(providersListCmd)
	providersCmd.AddCommand(providersDoctorCmd)
	providersDoctorCmd.Flags().StringVar(&flagProvider, "provider", "", "Provider to check")
	providersDoctorCmd.Flags().StringVar(&flagModel, "model", "", "Model to check")
}
