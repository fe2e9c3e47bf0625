// Package config provides configuration helpers for go-pepper commands.
package config

import (
	"fmt"
	"os"
)

// Default bridge configuration.
const (
	DefaultBridgePort = "8888"
)

// BridgeURL returns the bridge base URL from the BRIDGE_URL env var.
// Falls back to the provided default if not set.
func BridgeURL(defaultURL string) string {
	if url := os.Getenv("BRIDGE_URL"); url != "" {
		return url
	}
	return defaultURL
}

// BridgeURLRequired returns the bridge base URL from the BRIDGE_URL env var.
// Exits with a usage hint if not set.
func BridgeURLRequired() string {
	url := os.Getenv("BRIDGE_URL")
	if url == "" {
		fmt.Fprintln(os.Stderr, "Error: BRIDGE_URL environment variable is required")
		fmt.Fprintln(os.Stderr, "Usage: BRIDGE_URL=http://10.0.100.100:8888 go run ./cmd/...")
		os.Exit(1)
	}
	return url
}

// BridgeURLFromIP builds a bridge base URL from a robot IP.
func BridgeURLFromIP(robotIP string) string {
	return fmt.Sprintf("http://%s:%s", robotIP, DefaultBridgePort)
}

// BridgeAPIKey returns the bridge API key from BRIDGE_API_KEY, if set.
// The bridge accepts unauthenticated requests when it runs without a key.
func BridgeAPIKey() string {
	return os.Getenv("BRIDGE_API_KEY")
}

// OpenAIKey returns the OpenAI-compatible API key from OPENAI_API_KEY.
func OpenAIKey() string {
	return os.Getenv("OPENAI_API_KEY")
}
