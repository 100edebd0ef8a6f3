// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/kraklabs/ragex/internal/errors"
	"github.com/kraklabs/ragex/internal/ui"
)

// runInit executes the 'init' CLI command, creating a .ragex/project.yaml configuration file.
//
// It creates the configuration directory, generates a default configuration, and optionally
// prompts the user for customization in interactive mode. The command can also install
// a git post-commit hook for automatic re-indexing.
//
// Flags:
//   - --force: Overwrite existing configuration (default: false)
//   - -y: Non-interactive mode, use all defaults (default: false)
//   - --project-id: Project identifier (default: directory name)
//   - --ip: Ragex server IP for Tailscale/NodePort setup (sets edge-cache and primary-hub)
//   - --edge-cache: Edge Cache URL (overrides --ip)
//   - --primary-hub: Primary Hub gRPC address (overrides --ip)
//   - --embedding-provider: Embedding provider (ollama, nomic, mock)
//   - --llm-url: LLM API URL for narrative generation
//   - --llm-model: LLM model name
//   - --llm-api-key: LLM API key (optional for local models)
//   - --no-hook: Skip git hook installation
//   - --hook: Install git hook without prompting
//
// Examples:
//
//	ragex init                           Interactive setup
//	ragex init -y                        Use all defaults
//	ragex init --ip 100.117.59.45        Configure with Tailscale IP
//	ragex init --hook                    Initialize and install git hook
//
// initFlags holds parsed flags for the init command.
type initFlags struct {
	force, nonInteractive, noHook, withHook bool
	projectID, serverIP, edgeCache          string
	primaryHub, embeddingProvider           string
	llmURL, llmModel, llmAPIKey             string
}

func runInit(args []string, globals GlobalFlags) {
	// Check if we should delegate to remote server
	baseURL := os.Getenv("RAGEX_BASE_URL")
	if baseURL == "" {
		// Try to detect local server from docker-compose
		defaultURL := "http://localhost:9090"
		if isRagexServerAlive(defaultURL) {
			baseURL = defaultURL
		}
	}

	if baseURL != "" {
		runRemoteInit(baseURL, args)
		return
	}

	flags := parseInitFlags(args)
	applyServerIPDefaults(&flags)

	cwd, err := os.Getwd()
	if err != nil {
		errors.FatalError(errors.NewInternalError(
			"Cannot access working directory",
			"Failed to determine current directory path",
			"This is unexpected. Please report this issue if it persists",
			err,
		), false)
	}

	configPath := ConfigPath(cwd)
	if _, err := os.Stat(configPath); err == nil && !flags.force {
		errors.FatalError(errors.NewInputError(
			"Configuration already exists",
			fmt.Sprintf("%s already exists in this directory", configPath),
			"Use 'ragex init --force' to overwrite the existing configuration",
		), false)
	}

	cfg := createInitConfig(cwd, flags)
	reader := bufio.NewReader(os.Stdin)

	if !flags.nonInteractive {
		runInteractiveConfig(reader, cfg)
	}

	saveInitConfig(cwd, configPath, cfg)
	handleHookInstallation(reader, flags)
	printNextSteps(flags.noHook)
}

func parseInitFlags(args []string) initFlags {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	var f initFlags
	fs.BoolVar(&f.force, "force", false, "Overwrite existing configuration")
	fs.BoolVarP(&f.nonInteractive, "yes", "y", false, "Non-interactive mode (use defaults)")
	fs.StringVar(&f.projectID, "project-id", "", "Project identifier")
	fs.StringVar(&f.serverIP, "ip", "", "Ragex server IP (sets edge-cache to http://IP:30080 and primary-hub to IP:30051)")
	fs.StringVar(&f.edgeCache, "edge-cache", "", "Edge Cache URL (overrides --ip)")
	fs.StringVar(&f.primaryHub, "primary-hub", "", "Primary Hub gRPC address (overrides --ip)")
	fs.StringVar(&f.embeddingProvider, "embedding-provider", "", "Embedding provider (ollama, nomic, mock)")
	fs.StringVar(&f.llmURL, "llm-url", "", "LLM API URL (OpenAI-compatible, e.g., http://localhost:8001/v1)")
	fs.StringVar(&f.llmModel, "llm-model", "", "LLM model name")
	fs.StringVar(&f.llmAPIKey, "llm-api-key", "", "LLM API key (optional for local models)")
	fs.BoolVar(&f.noHook, "no-hook", false, "Skip git hook installation (hook is installed by default)")
	fs.BoolVar(&f.withHook, "hook", false, "Install git hook without prompting (for scripts)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: ragex init [options]

Description:
  Create a .ragex/project.yaml configuration file for the current repository.

  By default, runs in interactive mode with prompts for each setting.
  Use -y for non-interactive mode with sensible defaults.

  The configuration defines:
  - Project identifier and data storage location
  - Embedding provider (ollama, nomic, openai, mock)
  - Optional LLM settings for narrative generation
  - Indexing behavior (exclusions, batch size, etc.)

Options:
`)
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
Examples:
  # Interactive setup with prompts
  ragex init

  # Non-interactive with all defaults
  ragex init -y

  # Configure for Tailscale/NodePort setup (sets edge-cache and primary-hub)
  ragex init --ip 100.117.59.45

  # Configure with custom Edge Cache URL
  ragex init --edge-cache http://myserver:8080

  # Initialize and install git hook for auto-indexing
  ragex init --hook

  # Custom project ID (default: directory name)
  ragex init --project-id my-awesome-project

Notes:
  Configuration is stored in .ragex/project.yaml in the repository root.
  You can edit this file manually or re-run init with --force to recreate.

`)
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	return f
}

func applyServerIPDefaults(f *initFlags) {
	if f.serverIP != "" {
		if f.edgeCache == "" {
			f.edgeCache = fmt.Sprintf("http://%s:30080", f.serverIP)
		}
		if f.primaryHub == "" {
			f.primaryHub = fmt.Sprintf("%s:30051", f.serverIP)
		}
	}
}

func createInitConfig(cwd string, f initFlags) *Config {
	pid := f.projectID
	if pid == "" {
		pid = filepath.Base(cwd)
	}
	cfg := DefaultConfig(pid)
	if f.edgeCache != "" {
		cfg.Ragex.EdgeCache = f.edgeCache
	} else {
		// Default to localhost:9090 (Docker mode) since that's the recommended workflow.
		// Users who don't want Docker can edit the config or use --edge-cache flag.
		cfg.Ragex.EdgeCache = "http://localhost:9090"
	}
	if f.primaryHub != "" {
		cfg.Ragex.PrimaryHub = f.primaryHub
	}
	if f.embeddingProvider != "" {
		cfg.Embedding.Provider = f.embeddingProvider
	}
	if f.llmURL != "" {
		cfg.LLM.Enabled = true
		cfg.LLM.BaseURL = f.llmURL
	}
	if f.llmModel != "" {
		cfg.LLM.Model = f.llmModel
	}
	if f.llmAPIKey != "" {
		cfg.LLM.APIKey = f.llmAPIKey
	}
	return cfg
}

func runInteractiveConfig(reader *bufio.Reader, cfg *Config) {
	ui.Header("Ragex Project Configuration")
	fmt.Println()

	cfg.ProjectID = prompt(reader, "Project ID", cfg.ProjectID)

	fmt.Println()
	ui.Info("Embedding Providers: ollama, nomic, mock")
	cfg.Embedding.Provider = prompt(reader, "Embedding provider", cfg.Embedding.Provider)
	if cfg.Embedding.Provider == "ollama" {
		cfg.Embedding.BaseURL = prompt(reader, "Ollama URL", cfg.Embedding.BaseURL)
		cfg.Embedding.Model = prompt(reader, "Embedding model", cfg.Embedding.Model)
	}

	promptLLMConfig(reader, cfg)
	fmt.Println()
}

func promptLLMConfig(reader *bufio.Reader, cfg *Config) {
	fmt.Println()
	ui.SubHeader("LLM Configuration (for analyze narratives)")
	fmt.Println("Configure an OpenAI-compatible LLM to generate narrative explanations.")
	_, _ = ui.Dim.Println("Leave empty to skip LLM configuration.")
	fmt.Println()

	llmURLInput := prompt(reader, "LLM API URL (e.g., http://localhost:8001/v1)", cfg.LLM.BaseURL)
	if llmURLInput != "" {
		cfg.LLM.Enabled = true
		cfg.LLM.BaseURL = llmURLInput
		cfg.LLM.Model = prompt(reader, "LLM model name", "qwen3-coder")
		cfg.LLM.APIKey = prompt(reader, "LLM API key (optional)", cfg.LLM.APIKey)
		maxTokensStr := prompt(reader, "Max tokens for narrative", "2000")
		if maxTokensStr != "" {
			var maxTokens int
			_, _ = fmt.Sscanf(maxTokensStr, "%d", &maxTokens)
			if maxTokens > 0 {
				cfg.LLM.MaxTokens = maxTokens
			}
		}
	}
}

func saveInitConfig(cwd, configPath string, cfg *Config) {
	ragexDir := ConfigDir(cwd)
	if err := os.MkdirAll(ragexDir, 0750); err != nil {
		errors.FatalError(errors.NewPermissionError(
			"Cannot create .ragex directory",
			fmt.Sprintf("Permission denied creating directory: %s", ragexDir),
			"Check directory permissions or run with appropriate privileges",
			err,
		), false)
	}
	if err := SaveConfig(cfg, configPath); err != nil {
		errors.FatalError(errors.NewPermissionError(
			"Cannot save configuration file",
			fmt.Sprintf("Failed to write %s", configPath),
			"Check directory permissions and available disk space",
			err,
		), false)
	}
	ui.Successf("Created %s", configPath)
	addToGitignore(cwd)
}

func handleHookInstallation(reader *bufio.Reader, f initFlags) {
	if f.noHook {
		return
	}
	shouldInstall := f.withHook
	if !f.withHook && !f.nonInteractive {
		fmt.Println()
		hookAnswer := prompt(reader, "Install git hook for auto-indexing? (Y/n)", "y")
		hookAnswer = strings.ToLower(strings.TrimSpace(hookAnswer))
		shouldInstall = hookAnswer != "n" && hookAnswer != "no"
	} else if f.nonInteractive {
		shouldInstall = true
	}

	if !shouldInstall {
		return
	}
	gitDir, err := findGitDir()
	if err != nil {
		ui.Warningf("cannot find .git directory: %v", err)
		return
	}
	hookPath := filepath.Join(gitDir, "hooks", "post-commit")
	if err := installHook(hookPath, false); err != nil {
		ui.Warningf("cannot install git hook: %v", err)
	} else {
		ui.Successf("Git hook installed: %s", hookPath)
	}
}

func printNextSteps(noHook bool) {
	fmt.Println()
	ui.SubHeader("Next steps:")
	fmt.Printf("  1. Review and edit %s if needed\n", ui.DimText(".ragex/project.yaml"))
	fmt.Printf("  2. Run '%s' to index your repository\n", ui.Cyan.Sprint("ragex index"))
	fmt.Printf("  3. Run '%s' to verify indexing\n", ui.Cyan.Sprint("ragex status"))
	if noHook {
		fmt.Println()
		ui.Infof("Tip: Run '%s' to enable auto-indexing on each commit", ui.Cyan.Sprint("ragex install-hook"))
	}
}

// prompt displays an interactive prompt and reads user input from stdin.
//
// If the user presses Enter without providing input, the defaultValue is returned.
// This is used during interactive configuration setup.
//
// Parameters:
//   - reader: bufio.Reader for reading from stdin
//   - label: Prompt label to display to the user
//   - defaultValue: Value to return if user presses Enter (shown in brackets)
//
// Returns the user's input or the default value if input is empty.
func prompt(reader *bufio.Reader, label, defaultValue string) string {
	if defaultValue != "" {
		fmt.Printf("%s [%s]: ", label, defaultValue)
	} else {
		fmt.Printf("%s: ", label)
	}

	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultValue
	}
	return input
}

// addToGitignore adds .ragex/ to the project's .gitignore file if not already present.
//
// It safely appends the entry to .gitignore, avoiding duplicates. If .gitignore does
// not exist or cannot be modified, the function silently returns without error.
//
// The function checks for various .ragex/ patterns (.ragex, .ragex/, /.ragex, /.ragex/) to
// avoid adding duplicate entries.
//
// Parameters:
//   - dir: Directory containing the .gitignore file
func addToGitignore(dir string) {
	gitignorePath := filepath.Join(dir, ".gitignore")

	// Check if .gitignore exists
	content, err := os.ReadFile(gitignorePath) //nolint:gosec // G304: gitignorePath built from repo dir
	if err != nil {
		if os.IsNotExist(err) {
			// No .gitignore, nothing to do
			return
		}
		return
	}

	// Check if .ragex/ is already in .gitignore
	lines := strings.Split(string(content), "\n")
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == ".ragex/" || line == ".ragex" || line == "/.ragex/" || line == "/.ragex" {
			return // Already present
		}
	}

	// Append .ragex/ to .gitignore
	f, err := os.OpenFile(gitignorePath, os.O_APPEND|os.O_WRONLY, 0600) //nolint:gosec // G304: gitignorePath built from repo dir
	if err != nil {
		return
	}
	defer func() { _ = f.Close() }()

	// Add newline if file doesn't end with one
	if len(content) > 0 && content[len(content)-1] != '\n' {
		_, _ = f.WriteString("\n")
	}

	_, _ = f.WriteString("\n# Ragex configuration\n.ragex/\n")
	fmt.Println("Added .ragex/ to .gitignore")
}

// runRemoteInit delegates initialization to the remote Ragex server.
func runRemoteInit(baseURL string, args []string) {
	flags := parseInitFlags(args)

	// Build request payload
	payload := map[string]string{
		"project_id":         flags.projectID,
		"embedding_provider": flags.embeddingProvider,
	}
	if payload["embedding_provider"] == "" {
		payload["embedding_provider"] = "ollama"
	}

	body, err := json.Marshal(payload)
	if err != nil {
		errors.FatalError(errors.NewInternalError(
			"Failed to encode request",
			"Could not serialize init request to JSON",
			"This is a bug. Please report it.",
			err,
		), false)
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Post(baseURL+"/v1/init", "application/json", bytes.NewReader(body))
	if err != nil {
		errors.FatalError(errors.NewNetworkError(
			"Cannot connect to Ragex server",
			fmt.Sprintf("Failed to reach %s/v1/init", baseURL),
			"Check that the Ragex server is running and RAGEX_BASE_URL is correct",
			err,
		), false)
	}
	defer resp.Body.Close()

	var result struct {
		OK         bool   `json:"ok"`
		ProjectID  string `json:"project_id"`
		ConfigPath string `json:"config_path"`
		Error      string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		errors.FatalError(errors.NewInternalError(
			"Invalid response from server",
			"Could not parse server response",
			"Check server logs for errors",
			err,
		), false)
	}

	if resp.StatusCode != http.StatusOK || !result.OK {
		errMsg := result.Error
		if errMsg == "" {
			errMsg = fmt.Sprintf("server returned status %d", resp.StatusCode)
		}
		errors.FatalError(errors.NewInternalError(
			"Server initialization failed",
			errMsg,
			"Check server logs for details",
			nil,
		), false)
	}

	// Create local .ragex/project.yaml with project_id for CLI commands
	cwd, err := os.Getwd()
	if err == nil {
		localCfg := DefaultConfig(result.ProjectID)
		localCfg.Ragex.EdgeCache = baseURL // Store server URL
		ragexDir := ConfigDir(cwd)
		if err := os.MkdirAll(ragexDir, 0750); err == nil {
			configPath := ConfigPath(cwd)
			_ = SaveConfig(localCfg, configPath)
		}
	}

	ui.Successf("Project initialized on server: %s", result.ProjectID)
	if baseURL == "http://localhost:9090" {
		ui.Infof("Detected Ragex server running in Docker, automatically configured.")
	} else {
		ui.Infof("Using Ragex server at %s", baseURL)
	}
	fmt.Printf("Config saved at: %s\n", result.ConfigPath)
	fmt.Println()
	ui.SubHeader("Next steps:")
	fmt.Printf("  1. Run '%s' to index the repository\n", ui.Cyan.Sprint("ragex index"))
	fmt.Printf("  2. Run '%s' to verify indexing\n", ui.Cyan.Sprint("ragex status"))
}

// isRagexServerAlive checks if a Ragex server is responding at the given URL.
func isRagexServerAlive(url string) bool {
	client := &http.Client{Timeout: 500 * time.Millisecond}
	resp, err := client.Get(url + "/health")
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
