package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/urmzd/watchgate/pkg/ai"
	"github.com/urmzd/watchgate/pkg/bridge"
	"github.com/urmzd/watchgate/pkg/bus"
	"github.com/urmzd/watchgate/pkg/config"
	"github.com/urmzd/watchgate/pkg/db"
	"github.com/urmzd/watchgate/pkg/perception"
	"github.com/urmzd/watchgate/pkg/provision"
	"github.com/urmzd/watchgate/pkg/session"
	"github.com/urmzd/watchgate/pkg/tools"
)

func main() {
	// Configure logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	// Parse flags
	configPath := flag.String("config", "", "Path to config file")
	dbPath := flag.String("db", "", "Path to database file (default: ~/.config/watchgate/watchgate.db)")
	flag.Parse()

	ctx := context.Background()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if level, err := zerolog.ParseLevel(cfg.Log.Level); err == nil {
		zerolog.SetGlobalLevel(level)
	}
	log.Info().Str("config", cfg.String()).Msg("Configuration loaded")

	if *dbPath != "" {
		cfg.Storage.DBPath = *dbPath
	}

	// Open the check-in store. The gateway runs without it if storage
	// is unavailable.
	var checkins db.CheckinStore
	database, err := db.Open(cfg.Storage.DBPath)
	if err != nil {
		log.Warn().Err(err).Msg("Check-in store unavailable, check-ins will not be recorded")
	} else {
		defer func() {
			if err := database.Close(); err != nil {
				log.Error().Err(err).Msg("Failed to close database")
			}
		}()
		if err := database.Migrate(ctx); err != nil {
			log.Warn().Err(err).Msg("Migration failed, check-ins will not be recorded")
		} else {
			checkins = database.Checkins()
			log.Info().Str("path", database.Path()).Msg("Database opened")
		}
	}

	// AI providers are null until real adapters are configured
	vision := ai.NewNullVision()
	speech := ai.NewNullSpeech()
	log.Warn().Msg("No vision provider configured, using null provider")
	log.Warn().Msg("No speech provider configured, using null provider")

	detector := perception.NewDetector()
	analyzer := perception.NewAnalyzer(vision, cfg.Storage.SnapshotDir)

	// MQTT bus
	adapter := bus.NewAdapter(cfg.MQTT.Host, cfg.MQTT.Port, cfg.MQTT.Username, cfg.MQTT.Password)
	if err := adapter.Connect(); err != nil {
		log.Warn().Err(err).Msg("MQTT broker unreachable, bus features degraded")
	} else {
		if err := adapter.RegisterEntities(); err != nil {
			log.Warn().Err(err).Msg("Entity registration failed")
		}
		adapter.PublishInitialStates()
	}

	// Device session manager
	advertiseHost := cfg.Device.AdvertiseHost
	if advertiseHost == "" {
		advertiseHost = localIP()
	}
	visionURL := fmt.Sprintf("http://%s:%d/vision/explain", advertiseHost, cfg.Device.HandshakePort)

	manager := session.NewManager(adapter, detector, analyzer, speech, session.Options{
		VisionURL:           visionURL,
		VisionToken:         cfg.Device.VisionToken,
		CustomPrompt:        cfg.Vision.CustomPrompt,
		ConfidenceThreshold: cfg.Vision.ConfidenceThreshold,
	})

	// Route bus commands into the session
	router := bus.NewRouter(adapter, manager)
	if err := adapter.SubscribeCommands(router.Handle); err != nil {
		log.Warn().Err(err).Msg("Command subscription failed")
	}

	// Tool registry backed by Home Assistant
	var registry tools.Executor
	if cfg.Hass.BaseURL != "" {
		registry = tools.NewHassRegistry(tools.NewHassClient(cfg.Hass.BaseURL, cfg.Hass.Token))
	} else {
		log.Warn().Msg("No Home Assistant URL configured, tool catalog is empty")
		registry = tools.NewRegistry()
	}

	// Cloud tool broker, when configured
	var mcpBridge *bridge.Bridge
	if cfg.Bridge.BrokerURL != "" {
		mcpBridge = bridge.New(cfg.Bridge.BrokerURL, registry)
		mcpBridge.Start()
	}

	// Provisioning and vision-callback server
	provisionRouter := provision.NewRouter(adapter, vision, checkins, provision.Options{
		FirmwarePath:  cfg.Device.FirmwarePath,
		WebSocketPort: cfg.Device.WebSocketPort,
	})
	go func() {
		addr := fmt.Sprintf(":%d", cfg.Device.HandshakePort)
		log.Info().Str("address", addr).Msg("Starting provisioning server")
		if err := provisionRouter.Run(addr); err != nil {
			log.Fatal().Err(err).Msg("Provisioning server failed")
		}
	}()

	// Handle shutdown gracefully
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Info().Msg("Shutting down...")
		if mcpBridge != nil {
			mcpBridge.Stop()
		}
		manager.Close()
		adapter.Disconnect()
		if database != nil {
			if err := database.Close(); err != nil {
				log.Error().Err(err).Msg("Failed to close database")
			}
		}
		os.Exit(0)
	}()

	// Device WebSocket server
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.GET("/ws", gin.WrapF(manager.HandleConnection))

	addr := fmt.Sprintf(":%d", cfg.Device.WebSocketPort)
	log.Info().Str("address", addr).Msg("Starting device WebSocket server")

	if err := engine.Run(addr); err != nil {
		log.Fatal().Err(err).Msg("Server failed")
	}
}

// localIP finds the address the host would use for outbound traffic.
// Falls back to localhost when the network is down.
func localIP() string {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "127.0.0.1"
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String()
}
