package vault

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"binance-spot-executor/config"
)

func TestExchangeCredentials(t *testing.T) {
	var reads int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Vault-Token") != "root" {
			t.Errorf("Expected vault token header")
		}
		switch r.URL.Path {
		case "/v1/secret/data/spot-executor/binance_mainnet":
			atomic.AddInt32(&reads, 1)
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"data":{"data":{"api_key":"ak","secret_key":"sk"},"metadata":{"version":1}}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"errors":[]}`))
		}
	}))
	defer srv.Close()

	c, err := NewClient(config.VaultConfig{
		Enabled:    true,
		Address:    srv.URL,
		Token:      "root",
		MountPath:  "secret",
		SecretPath: "spot-executor",
	})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	ctx := context.Background()

	creds, err := c.ExchangeCredentials(ctx, "binance", false)
	if err != nil {
		t.Fatalf("ExchangeCredentials failed: %v", err)
	}
	if creds.APIKey != "ak" || creds.SecretKey != "sk" {
		t.Errorf("Unexpected credentials %+v", creds)
	}

	if _, err := c.ExchangeCredentials(ctx, "binance", false); err != nil {
		t.Fatalf("Cached read failed: %v", err)
	}
	if n := atomic.LoadInt32(&reads); n != 1 {
		t.Errorf("Expected one vault read, got %d", n)
	}

	if _, err := c.ExchangeCredentials(ctx, "binance", true); !errors.Is(err, ErrCredentialsNotFound) {
		t.Errorf("Expected ErrCredentialsNotFound for testnet, got %v", err)
	}
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{"unsealed", `{"initialized":true,"sealed":false,"standby":false,"version":"1.15.0"}`, false},
		{"sealed", `{"initialized":true,"sealed":true,"standby":false,"version":"1.15.0"}`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/v1/sys/health" {
					t.Errorf("Expected /v1/sys/health, got %s", r.URL.Path)
				}
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c, err := NewClient(config.VaultConfig{Enabled: true, Address: srv.URL, Token: "root", MountPath: "secret"})
			if err != nil {
				t.Fatalf("NewClient failed: %v", err)
			}
			err = c.Health(context.Background())
			if (err != nil) != tt.wantErr {
				t.Errorf("Expected error=%v, got %v", tt.wantErr, err)
			}
		})
	}
}
