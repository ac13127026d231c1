// Package config loads the server configuration from the environment. The
// payment core consumes the resolved values; only this package knows where
// they come from.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"

	"github.com/seipaylabs/s402/types"
	"github.com/seipaylabs/s402/utils"
)

// Resource is one entry of the protected-path price table. The table is
// read-only after startup.
type Resource struct {
	Price       string `json:"price" validate:"required"`
	Description string `json:"description"`
	MimeType    string `json:"mimeType"`
}

// Config is the fully resolved server configuration.
type Config struct {
	Network    types.Network `validate:"required"`
	RPCURL     string
	Recipient  string `validate:"required"`
	PrivateKey string
	Port       int
	LogLevel   string
	CORSOrigin string

	// AssetAddress overrides the built-in USDC address when set.
	AssetAddress string

	// Resources maps protected paths to their pricing.
	Resources map[string]Resource
}

// DefaultResources mirrors the demo price table: three sample API routes
// priced in USDC.
func DefaultResources() map[string]Resource {
	return map[string]Resource{
		"/api/weather": {
			Price:       "0.001",
			Description: "Get current weather data",
			MimeType:    "application/json",
		},
		"/api/premium-data": {
			Price:       "0.01",
			Description: "Access premium data feed",
			MimeType:    "application/json",
		},
		"/api/ai-completion": {
			Price:       "0.10",
			Description: "Generate AI text completion",
			MimeType:    "application/json",
		},
	}
}

// Load reads configuration from the environment, after loading a .env file
// if one exists. Validation failures are fatal at startup.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Network:    types.Network(envOr("NETWORK", string(types.NetworkSeiTestnet))),
		RPCURL:     os.Getenv("RPC_URL"),
		Recipient:  envOr("RECIPIENT_ADDRESS", "0x38A3cba9B40b84a95A94d2B9F6ad6b5457C1317C"),
		PrivateKey: os.Getenv("PRIVATE_KEY"),
		LogLevel:   envOr("LOG_LEVEL", "info"),
		CORSOrigin: envOr("CORS_ORIGIN", "*"),

		AssetAddress: os.Getenv("ASSET_ADDRESS"),
		Resources:    DefaultResources(),
	}

	port, err := strconv.Atoi(envOr("PORT", "3000"))
	if err != nil {
		return nil, &types.S402Error{
			Code:    types.ErrConfigError,
			Message: fmt.Sprintf("invalid PORT: %v", err),
		}
	}
	cfg.Port = port

	if raw := os.Getenv("RESOURCES"); raw != "" {
		var resources map[string]Resource
		if err := json.Unmarshal([]byte(raw), &resources); err != nil {
			return nil, &types.S402Error{
				Code:    types.ErrConfigError,
				Message: fmt.Sprintf("invalid RESOURCES JSON: %v", err),
			}
		}
		cfg.Resources = resources
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for startup-fatal problems.
func (c *Config) Validate() error {
	if err := utils.ValidateStruct(c); err != nil {
		return &types.S402Error{
			Code:    types.ErrConfigError,
			Message: fmt.Sprintf("config validation failed: %v", err),
		}
	}

	if !c.Network.IsValid() {
		return &types.S402Error{
			Code:    types.ErrConfigError,
			Message: fmt.Sprintf("unsupported network: %s", c.Network),
		}
	}

	if !utils.ValidateAddress(c.Recipient) {
		return &types.S402Error{
			Code:    types.ErrConfigError,
			Message: fmt.Sprintf("recipient is not a valid address: %s", c.Recipient),
		}
	}

	if c.AssetAddress != "" && !utils.ValidateAddress(c.AssetAddress) {
		return &types.S402Error{
			Code:    types.ErrConfigError,
			Message: fmt.Sprintf("asset override is not a valid address: %s", c.AssetAddress),
		}
	}

	for path, res := range c.Resources {
		if _, err := utils.ParseAmount(res.Price); err != nil {
			return &types.S402Error{
				Code:    types.ErrConfigError,
				Message: fmt.Sprintf("invalid price for %s: %v", path, err),
			}
		}
	}

	return nil
}

// NetworkConfig resolves the built-in network parameters with any
// deployment overrides applied.
func (c *Config) NetworkConfig() (types.NetworkConfig, error) {
	nc, err := types.ConfigForNetwork(c.Network)
	if err != nil {
		return types.NetworkConfig{}, err
	}
	if c.AssetAddress != "" {
		nc.AssetAddress = c.AssetAddress
	}
	if c.RPCURL != "" {
		nc.RPCURL = c.RPCURL
	}
	return nc, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
