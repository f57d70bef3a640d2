// Package vault reads exchange credentials from a HashiCorp Vault KV v2 engine.
package vault

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/hashicorp/vault/api"

	"binance-spot-executor/config"
)

// ErrCredentialsNotFound is returned when no secret exists at the credentials path
var ErrCredentialsNotFound = errors.New("exchange credentials not found")

// Credentials represents the exchange API key pair stored in Vault
type Credentials struct {
	APIKey    string `json:"api_key"`
	SecretKey string `json:"secret_key"`
	Exchange  string `json:"exchange"`
	IsTestnet bool   `json:"is_testnet"`
}

// Client wraps the HashiCorp Vault client
type Client struct {
	client *api.Client
	config config.VaultConfig
	mu     sync.RWMutex
	cache  map[string]Credentials
}

// NewClient creates a new Vault client
func NewClient(cfg config.VaultConfig) (*Client, error) {
	vaultConfig := api.DefaultConfig()
	vaultConfig.Address = cfg.Address

	client, err := api.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}
	client.SetToken(cfg.Token)

	return &Client{
		client: client,
		config: cfg,
		cache:  make(map[string]Credentials),
	}, nil
}

// ExchangeCredentials returns the API key pair for exchange on mainnet or testnet
func (c *Client) ExchangeCredentials(ctx context.Context, exchange string, isTestnet bool) (Credentials, error) {
	key := cacheKey(exchange, isTestnet)
	c.mu.RLock()
	cached, ok := c.cache[key]
	c.mu.RUnlock()
	if ok {
		return cached, nil
	}

	secret, err := c.client.Logical().ReadWithContext(ctx, c.secretPath(exchange, isTestnet))
	if err != nil {
		return Credentials{}, fmt.Errorf("failed to read credentials from vault: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return Credentials{}, ErrCredentialsNotFound
	}
	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return Credentials{}, fmt.Errorf("invalid secret format")
	}

	creds := Credentials{
		APIKey:    getString(data, "api_key"),
		SecretKey: getString(data, "secret_key"),
		Exchange:  exchange,
		IsTestnet: isTestnet,
	}
	if creds.APIKey == "" || creds.SecretKey == "" {
		return Credentials{}, fmt.Errorf("%w: incomplete secret", ErrCredentialsNotFound)
	}

	c.mu.Lock()
	c.cache[key] = creds
	c.mu.Unlock()
	return creds, nil
}

// Health checks the Vault connection
func (c *Client) Health(ctx context.Context) error {
	health, err := c.client.Sys().HealthWithContext(ctx)
	if err != nil {
		return fmt.Errorf("vault health check failed: %w", err)
	}
	if health.Sealed {
		return fmt.Errorf("vault is sealed")
	}
	return nil
}

func (c *Client) secretPath(exchange string, isTestnet bool) string {
	return fmt.Sprintf("%s/data/%s/%s", c.config.MountPath, c.config.SecretPath, cacheKey(exchange, isTestnet))
}

func cacheKey(exchange string, isTestnet bool) string {
	network := "mainnet"
	if isTestnet {
		network = "testnet"
	}
	return exchange + "_" + network
}

func getString(data map[string]interface{}, key string) string {
	if val, ok := data[key]; ok {
		switch v := val.(type) {
		case string:
			return v
		case json.Number:
			return v.String()
		}
	}
	return ""
}
