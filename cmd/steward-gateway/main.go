// ABOUTME: Entry point for the steward-gateway plan orchestration server
// ABOUTME: Serves the REST/SSE API and hosts the plan runner

package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/stillwater-labs/steward/internal/config"
	"github.com/stillwater-labs/steward/internal/gateway"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
     _                             _
 ___| |_ _____      ____ _ _ __ __| |
/ __| __/ _ \ \ /\ / / _' | '__/ _' |
\__ \ ||  __/\ V  V / (_| | | | (_| |
|___/\__\___| \_/\_/ \__,_|_|  \__,_|
`

// getConfigPath returns the path to the gateway config file.
// Priority: STEWARD_CONFIG env var > XDG_CONFIG_HOME/steward/gateway.yaml > ~/.config/steward/gateway.yaml
func getConfigPath() string {
	if envPath := os.Getenv("STEWARD_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "gateway.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "steward", "gateway.yaml")
}

// getDataPath returns the path to the steward data directory.
// Priority: XDG_DATA_HOME/steward > ~/.local/share/steward
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "steward")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: steward-gateway <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve   Start the gateway server")
		fmt.Println("  init    Create a new config file interactively")
		fmt.Println("  health  Check gateway health")
		fmt.Println("  teams   List registered teams")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	case "health":
		err = runHealth(ctx)
	case "teams":
		err = runTeams(ctx)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	// Print banner
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	// Version info
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Setup logger
	logger := setupLogger(cfg.Logging)

	// Startup info
	green := color.New(color.FgGreen)

	green.Print("    ▶ ")
	fmt.Printf("Config:   %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:     %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Teams:    %s\n", cfg.Teams.Path)
	green.Print("    ▶ ")
	fmt.Printf("Model:    %s\n", cfg.Model.Provider)
	if cfg.Tools.Endpoint != "" {
		green.Print("    ▶ ")
		fmt.Printf("Tools:    %s\n", cfg.Tools.Endpoint)
	}

	fmt.Println()

	logger.Info("starting steward-gateway",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"model_provider", cfg.Model.Provider,
	)

	// Create and run gateway
	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(ctx)
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = newTermHandler(os.Stdout, level)
	}

	return slog.New(handler)
}

// termHandler renders records as single colorized lines for terminals.
// Group names become dotted key prefixes.
type termHandler struct {
	out    io.Writer
	mu     *sync.Mutex
	level  slog.Level
	prefix string
	attrs  []slog.Attr
}

func newTermHandler(out io.Writer, level slog.Level) *termHandler {
	return &termHandler{out: out, mu: &sync.Mutex{}, level: level}
}

func (h *termHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

// levelTag returns the three-letter colored tag for a level, covering
// custom levels by rounding down.
func levelTag(l slog.Level) string {
	switch {
	case l >= slog.LevelError:
		return color.New(color.FgRed, color.Bold).Sprint("ERR")
	case l >= slog.LevelWarn:
		return color.YellowString("WRN")
	case l >= slog.LevelInfo:
		return color.CyanString("INF")
	default:
		return color.MagentaString("DBG")
	}
}

func (h *termHandler) Handle(_ context.Context, r slog.Record) error {
	var line strings.Builder
	line.WriteString(color.HiBlackString(r.Time.Format(time.TimeOnly)))
	line.WriteByte(' ')
	line.WriteString(levelTag(r.Level))
	line.WriteByte(' ')
	line.WriteString(r.Message)

	for _, a := range h.attrs {
		h.writeAttr(&line, a.Key, a.Value)
	}
	r.Attrs(func(a slog.Attr) bool {
		h.writeAttr(&line, h.prefix+a.Key, a.Value)
		return true
	})
	line.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.out, line.String())
	return err
}

func (h *termHandler) writeAttr(line *strings.Builder, key string, v slog.Value) {
	line.WriteString(color.HiBlackString(" " + key + "="))
	line.WriteString(v.Resolve().String())
}

func (h *termHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	c := h.clone()
	for _, a := range attrs {
		a.Key = h.prefix + a.Key
		c.attrs = append(c.attrs, a)
	}
	return c
}

func (h *termHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	c := h.clone()
	c.prefix += name + "."
	return c
}

func (h *termHandler) clone() *termHandler {
	return &termHandler{
		out:    h.out,
		mu:     h.mu,
		level:  h.level,
		prefix: h.prefix,
		attrs:  slices.Clip(h.attrs),
	}
}

func runHealth(ctx context.Context) error {
	configPath := getConfigPath()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Make HTTP request to health endpoint with context
	url := fmt.Sprintf("http://%s/health", cfg.Server.HTTPAddr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	fmt.Println("healthy")
	return nil
}

func runTeams(ctx context.Context) error {
	configPath := getConfigPath()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Make HTTP request to the teams endpoint with context
	url := fmt.Sprintf("http://%s/api/teams", cfg.Server.HTTPAddr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("teams request failed: %w", err)
	}
	defer resp.Body.Close()

	// Read response body
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	fmt.Println(string(body))
	return nil
}

func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("steward-gateway configuration setup")
	fmt.Println("===================================")
	fmt.Println()

	// Default paths
	defaultConfigPath := getConfigPath()
	defaultDataPath := getDataPath()
	defaultDbPath := filepath.Join(defaultDataPath, "steward.db")
	defaultTeamsPath := filepath.Join(filepath.Dir(defaultConfigPath), "teams.toml")

	// Output filename
	outputFile := prompt(reader, "Config file path", defaultConfigPath)

	// Check if file exists
	if _, err := os.Stat(outputFile); err == nil {
		overwrite := prompt(reader, "File exists. Overwrite?", "no")
		if strings.ToLower(overwrite) != "yes" && strings.ToLower(overwrite) != "y" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	// Server configuration
	fmt.Println("\n--- Server Configuration ---")
	httpAddr := prompt(reader, "HTTP address", "localhost:8389")

	// Database
	fmt.Println("\n--- Database Configuration ---")
	dbPath := prompt(reader, "SQLite database path", defaultDbPath)

	// Teams
	fmt.Println("\n--- Team Registry ---")
	teamsPath := prompt(reader, "Teams file path", defaultTeamsPath)

	// Model
	fmt.Println("\n--- Model Configuration ---")
	provider := prompt(reader, "Model provider (gemini/scripted)", "gemini")
	var apiKey, modelName string
	if provider == "gemini" {
		apiKey = prompt(reader, "API key (or ${GEMINI_API_KEY} to read from env)", "${GEMINI_API_KEY}")
		modelName = prompt(reader, "Model name", "gemini-2.0-flash")
	}

	// Tools
	fmt.Println("\n--- Tool Configuration ---")
	toolsEndpoint := prompt(reader, "Tool pack endpoint (leave empty to disable)", "")

	// Logging
	fmt.Println("\n--- Logging Configuration ---")
	logLevel := prompt(reader, "Log level (debug/info/warn/error)", "info")
	logFormat := prompt(reader, "Log format (text/json)", "text")

	// Generate config
	var cfg strings.Builder
	cfg.WriteString("# steward-gateway configuration\n")
	cfg.WriteString("# Generated by steward-gateway init\n\n")

	cfg.WriteString("server:\n")
	cfg.WriteString(fmt.Sprintf("  http_addr: \"%s\"\n", httpAddr))
	cfg.WriteString("\n")

	cfg.WriteString("database:\n")
	cfg.WriteString(fmt.Sprintf("  path: \"%s\"\n", dbPath))
	cfg.WriteString("\n")

	cfg.WriteString("teams:\n")
	cfg.WriteString(fmt.Sprintf("  path: \"%s\"\n", teamsPath))
	cfg.WriteString("\n")

	cfg.WriteString("model:\n")
	cfg.WriteString(fmt.Sprintf("  provider: \"%s\"\n", provider))
	if provider == "gemini" {
		cfg.WriteString(fmt.Sprintf("  api_key: \"%s\"\n", apiKey))
		cfg.WriteString(fmt.Sprintf("  model: \"%s\"\n", modelName))
	}
	cfg.WriteString("\n")

	if toolsEndpoint != "" {
		cfg.WriteString("tools:\n")
		cfg.WriteString(fmt.Sprintf("  endpoint: \"%s\"\n", toolsEndpoint))
		cfg.WriteString("  max_retries: 2\n")
		cfg.WriteString("  retry_backoff: \"500ms\"\n")
		cfg.WriteString("  invoke_timeout: \"30s\"\n")
		cfg.WriteString("\n")
	}

	cfg.WriteString("plans:\n")
	cfg.WriteString("  attach_debounce: \"1s\"\n")
	cfg.WriteString("  step_timeout: \"2m\"\n")
	cfg.WriteString("  max_tool_turns: 6\n")
	cfg.WriteString("\n")

	cfg.WriteString("logging:\n")
	cfg.WriteString(fmt.Sprintf("  level: \"%s\"\n", logLevel))
	cfg.WriteString(fmt.Sprintf("  format: \"%s\"\n", logFormat))

	// Ensure config directory exists
	configDir := filepath.Dir(outputFile)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	// Write config file
	if err := os.WriteFile(outputFile, []byte(cfg.String()), 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	// Write a starter team registry if one is not already there
	if _, err := os.Stat(teamsPath); os.IsNotExist(err) {
		if err := os.MkdirAll(filepath.Dir(teamsPath), 0755); err != nil {
			return fmt.Errorf("creating teams directory: %w", err)
		}
		if err := os.WriteFile(teamsPath, []byte(starterTeams), 0644); err != nil {
			return fmt.Errorf("writing teams file: %w", err)
		}
		fmt.Printf("\nStarter team registry written to %s\n", teamsPath)
	}

	// Ensure data directory exists
	dataDir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	fmt.Printf("Data directory: %s\n", dataDir)
	fmt.Println("\nTo start the server:")
	fmt.Printf("  steward-gateway serve\n")

	return nil
}

const starterTeams = `# steward team registry
# Generated by steward-gateway init

[[teams]]
id = "general"
description = "General-purpose research and writing"

[[teams.agents]]
name = "researcher"
description = "Gathers background information for the goal"

[[teams.agents]]
name = "writer"
description = "Drafts the final deliverable from gathered material"
`

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		// On EOF or error, return default
		fmt.Println()
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}
