package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"
	"github.com/mark3labs/mcp-go/server"
	toml "github.com/pelletier/go-toml/v2"

	"github.com/cambrianlabs/cambrian-mcp/internal/catalog"
	"github.com/cambrianlabs/cambrian-mcp/internal/common"
	"github.com/cambrianlabs/cambrian-mcp/internal/payment"
	"github.com/cambrianlabs/cambrian-mcp/internal/pricing"
	"github.com/cambrianlabs/cambrian-mcp/internal/purchase"
)

// ServerConfig holds MCP server settings.
type ServerConfig struct {
	Name string `toml:"name"`
	Port string `toml:"port"`
}

// PaymentConfig holds payment recipient and facilitator settings.
type PaymentConfig struct {
	Recipient      string  `toml:"recipient"`
	FacilitatorURL string  `toml:"facilitator_url"`
	PriceUSD       float64 `toml:"price_usd"`
}

// CambrianConfig holds upstream Cambrian API settings.
type CambrianConfig struct {
	BaseURL   string `toml:"base_url"`
	APIKey    string `toml:"api_key"`
	SchemaURL string `toml:"schema_url"`
}

// Config holds all cambrian-mcp configuration.
type Config struct {
	Server   ServerConfig         `toml:"server"`
	Payment  PaymentConfig        `toml:"payment"`
	Cambrian CambrianConfig       `toml:"cambrian"`
	Logging  common.LoggingConfig `toml:"logging"`
}

// newDefaultConfig returns a Config with sensible defaults.
func newDefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Name: "Cambrian-MCP",
			Port: "3001",
		},
		Payment: PaymentConfig{
			Recipient:      "0x4C3B0B1Cab290300bd5A36AD5f33A607acbD7ac3",
			FacilitatorURL: "https://x402.org/facilitator",
			PriceUSD:       0.03,
		},
		Cambrian: CambrianConfig{
			BaseURL: "https://opabinia.cambrian.org",
		},
		Logging: common.LoggingConfig{
			Level:      "info",
			Outputs:    []string{"console", "file"},
			FilePath:   "logs/cambrian-mcp.log",
			MaxSizeMB:  100,
			MaxBackups: 3,
		},
	}
}

// loadConfig loads configuration from a TOML file with defaults and env overrides.
func loadConfig(path string) Config {
	cfg := newDefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				log.Fatalf("Failed to read config file %s: %v", path, err)
			}
			// File not found — use defaults
		} else {
			if err := toml.Unmarshal(data, &cfg); err != nil {
				log.Fatalf("Failed to parse config file %s: %v", path, err)
			}
		}
	}

	// Apply environment overrides (matches the deployment convention)
	if r := os.Getenv("PAYMENT_RECIPIENT"); r != "" {
		cfg.Payment.Recipient = r
	}
	if f := os.Getenv("X402_FACILITATOR_URL"); f != "" {
		cfg.Payment.FacilitatorURL = f
	}
	if b := os.Getenv("CAMBRIAN_API_BASE_URL"); b != "" {
		cfg.Cambrian.BaseURL = b
	}
	if k := os.Getenv("CAMBRIAN_API_KEY"); k != "" {
		cfg.Cambrian.APIKey = k
	}
	if s := os.Getenv("CAMBRIAN_SCHEMA_URL"); s != "" {
		cfg.Cambrian.SchemaURL = s
	}
	if port := os.Getenv("PORT"); port != "" {
		cfg.Server.Port = port
	}
	if level := os.Getenv("CAMBRIAN_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}

	if cfg.Cambrian.SchemaURL == "" {
		cfg.Cambrian.SchemaURL = cfg.Cambrian.BaseURL + "/openapi.json"
	}

	return cfg
}

func main() {
	stdio := flag.Bool("stdio", false, "Use stdio transport (for Claude Desktop)")
	configFile := flag.String("config", "cambrian-mcp.toml", "Path to config file")
	flag.Parse()

	// .env is optional; values land in the environment before overrides apply
	_ = godotenv.Load()

	cfg := loadConfig(*configFile)

	// Load version
	common.LoadVersionFromFile()

	// Setup logging
	logger := common.NewLoggerFromConfig(cfg.Logging)

	// Build the catalog once, before the server accepts any traffic. The
	// loader never fails: an unreachable or malformed schema yields the
	// fixed fallback catalog.
	loader := catalog.NewLoader(cfg.Cambrian.SchemaURL, logger)
	loaded := loader.Load(context.Background())
	if loaded.Source == catalog.SourceFallback {
		logger.Warn().Err(loaded.Cause).Int("operations", loaded.Catalog.Len()).Msg("serving fallback catalog")
	}

	projector := pricing.NewProjector(cfg.Payment.PriceUSD, "USDC", pricing.USDCBaseMainnet)
	gate := payment.NewGate(logger)
	orchestrator := purchase.New(loaded.Catalog, gate, purchase.Config{
		BaseURL:        cfg.Cambrian.BaseURL,
		APIKey:         cfg.Cambrian.APIKey,
		Recipient:      cfg.Payment.Recipient,
		FacilitatorURL: cfg.Payment.FacilitatorURL,
		PriceUSD:       cfg.Payment.PriceUSD,
	}, logger)

	deps := &toolDeps{
		serverName:   cfg.Server.Name,
		catalog:      loaded.Catalog,
		projector:    projector,
		orchestrator: orchestrator,
		wallet:       cfg.Payment.Recipient,
		logger:       logger,
	}

	// Create MCP server with tool definitions
	mcpServer := server.NewMCPServer(
		cfg.Server.Name,
		common.GetVersion(),
		server.WithToolCapabilities(true),
	)

	// Register all MCP tools
	registerTools(mcpServer, deps)

	if *stdio {
		// Stdio transport — reads stdin, writes stdout
		if err := server.ServeStdio(mcpServer); err != nil {
			fmt.Fprintf(os.Stderr, "stdio server error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	port := cfg.Server.Port

	// Streamable HTTP transport — listens on configured port
	httpServer := server.NewStreamableHTTPServer(mcpServer,
		server.WithStateLess(true),
	)

	log.Printf("Starting MCP Streamable HTTP on :%s", port)
	fmt.Fprintf(os.Stderr, "Starting MCP Streamable HTTP on :%s\n", port)

	if err := httpServer.Start(":" + port); err != nil {
		fmt.Fprintf(os.Stderr, "http server error: %v\n", err)
		os.Exit(1)
	}
}
