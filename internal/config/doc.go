// Package config handles configuration loading for steward-gateway.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// The package provides validation and sensible defaults.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from STEWARD_CONFIG environment variable
//  2. ./config.yaml (current directory)
//  3. ~/.config/steward/gateway.yaml
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	model:
//	  api_key: "${GEMINI_API_KEY}"
//
// Syntax: ${VAR_NAME}
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	plans:
//	  attach_debounce: "1s"
//	  step_timeout: "2m"
//
// Supported units: ns, us, ms, s, m, h
//
// # Configuration Sections
//
// Server settings:
//
//	server:
//	  http_addr: "0.0.0.0:8389"   # REST API and event streams
//
// Database:
//
//	database:
//	  path: "/var/lib/steward/gateway.db"
//
// Team registry:
//
//	teams:
//	  path: "/etc/steward/teams.toml"
//
// Model backend:
//
//	model:
//	  provider: "gemini"   # gemini, scripted
//	  api_key: "${GEMINI_API_KEY}"
//	  model: "gemini-2.0-flash"
//
// Tool service:
//
//	tools:
//	  endpoint: "http://localhost:9321/mcp"
//	  max_retries: 2
//	  retry_backoff: "500ms"
//	  invoke_timeout: "30s"
//
// Plan lifecycle:
//
//	plans:
//	  attach_debounce: "1s"
//	  step_timeout: "2m"
//	  max_tool_turns: 6
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// # Usage
//
// Load configuration:
//
//	cfg, err := config.Load("/etc/steward/gateway.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
