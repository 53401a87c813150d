package main

import (
	"flag"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/urmzd/watchgate/pkg/config"
	watchmcp "github.com/urmzd/watchgate/pkg/mcp"
	"github.com/urmzd/watchgate/pkg/tools"
)

func main() {
	// Logging must go to stderr — stdout is the MCP transport
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	// Parse flags
	configPath := flag.String("config", "", "Path to config file")
	hassURL := flag.String("hass-url", "", "Home Assistant base URL (overrides config)")
	hassToken := flag.String("hass-token", "", "Home Assistant access token (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	if *hassURL != "" {
		cfg.Hass.BaseURL = *hassURL
	}
	if *hassToken != "" {
		cfg.Hass.Token = *hassToken
	}

	if cfg.Hass.BaseURL == "" {
		log.Fatal().Msg("Home Assistant URL required (set homeassistant.base_url, HASS_URL, or --hass-url)")
	}

	client := tools.NewHassClient(cfg.Hass.BaseURL, cfg.Hass.Token)
	registry := tools.NewHassRegistry(client)

	// Create and start MCP server
	mcpServer := watchmcp.NewServer(registry)

	log.Info().Str("hass", cfg.Hass.BaseURL).Msg("Starting MCP server on stdio")

	if err := mcpServer.ServeStdio(); err != nil {
		log.Fatal().Err(err).Msg("MCP server failed")
	}
}
