// Package cmd implements the popcli CLI commands.
package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/gobeyondidentity/perimeter/internal/version"
	"github.com/gobeyondidentity/perimeter/pkg/clierror"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	// Global flags
	outputFormat string
	serverURL    string
	configDir    string

	okFmt  = color.New(color.FgGreen).SprintFunc()
	errFmt = color.New(color.FgRed, color.Bold).SprintFunc()
	dimFmt = color.New(color.Faint).SprintFunc()
)

var rootCmd = &cobra.Command{
	Use:   "popcli",
	Short: "Perimeter client CLI for device-bound API access",
	Long: `popcli manages a device key pair, registers it with a Perimeter
server, and makes API calls carrying a proof of possession so the server
can confirm the request came from this device.`,
	Version:       version.String(),
	SilenceUsage:  true,
	SilenceErrors: true,
}

// OutputFormat exposes the --output flag value to the entrypoint's error
// printing.
func OutputFormat() string { return outputFormat }

func init() {
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "text", "Output format: text, json, yaml")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8443", "Perimeter server URL (env: POPCLI_SERVER)")
	rootCmd.PersistentFlags().StringVar(&configDir, "config-dir", "", "Config directory (default: ~/.popcli)")
}

// Execute runs the root command.
func Execute() error {
	if env := os.Getenv("POPCLI_SERVER"); env != "" && !rootCmd.PersistentFlags().Changed("server") {
		serverURL = env
	}
	return rootCmd.Execute()
}

// defaultConfigDir resolves the config directory, honoring the flag.
func defaultConfigDir() (string, error) {
	if configDir != "" {
		return configDir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}
	return filepath.Join(home, ".popcli"), nil
}

// cliConfig is stored in <config-dir>/config.json after registration.
type cliConfig struct {
	DeviceKeyID string `json:"device_key_id"`
	Thumbprint  string `json:"thumbprint"`
	Token       string `json:"token"`
	ServerURL   string `json:"server_url"`
}

func configPath() (string, error) {
	dir, err := defaultConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

func keyPath() (string, error) {
	dir, err := defaultConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "key.pem"), nil
}

func loadCLIConfig() (*cliConfig, error) {
	path, err := configPath()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, clierror.NotRegistered()
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	var cfg cliConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}

func saveCLIConfig(cfg *cliConfig) error {
	path, err := configPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// formatOutput handles output formatting based on the --output flag.
// Returns true if it produced output (text format is handled by each command).
func formatOutput(data interface{}) (bool, error) {
	switch outputFormat {
	case "json":
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return true, encoder.Encode(data)
	case "yaml":
		out, err := yaml.Marshal(data)
		if err != nil {
			return true, err
		}
		fmt.Print(string(out))
		return true, nil
	default:
		return false, nil
	}
}
