package config

import (
	"os"
	"testing"
	"time"
)

func validBaseConfig() Config {
	var config Config
	config.Server.URL = "https://panel.test"
	config.Server.ID = "relay-1"
	config.Server.Key = "secret"
	config.Hypervisor.Host = "pve.test"
	config.Hypervisor.TokenID = "root@pam!consoled"
	config.Hypervisor.TokenSecret = "token-secret"
	return config
}

func TestValidateConfigDefaults(t *testing.T) {
	valid, settings := validateConfig(validBaseConfig())
	if !valid {
		t.Fatal("Expected a valid base config")
	}

	if settings.ListenAddr != DefaultListenAddr {
		t.Errorf("Expected default listen addr %s, got %s", DefaultListenAddr, settings.ListenAddr)
	}
	if settings.ConnectTimeout != DefaultConnectTimeout {
		t.Errorf("Expected default connect timeout %s, got %s", DefaultConnectTimeout, settings.ConnectTimeout)
	}
	if settings.MaxSessions != 0 {
		t.Errorf("Expected unlimited sessions by default, got %d", settings.MaxSessions)
	}
	if settings.PoolMaxWorkers != DefaultPoolMaxWorkers {
		t.Errorf("Expected default PoolMaxWorkers to be %d, got %d", DefaultPoolMaxWorkers, settings.PoolMaxWorkers)
	}
	if settings.PoolQueueSize != DefaultPoolQueueSize {
		t.Errorf("Expected default PoolQueueSize to be %d, got %d", DefaultPoolQueueSize, settings.PoolQueueSize)
	}
}

func TestValidateConfigRejectsBadInput(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "invalid panel url", mutate: func(c *Config) { c.Server.URL = "panel.test" }},
		{name: "missing server credentials", mutate: func(c *Config) { c.Server.Key = "" }},
		{name: "missing hypervisor host", mutate: func(c *Config) { c.Hypervisor.Host = "" }},
		{name: "missing token secret", mutate: func(c *Config) { c.Hypervisor.TokenSecret = "" }},
		{name: "malformed token id", mutate: func(c *Config) { c.Hypervisor.TokenID = "root@pam" }},
		{name: "negative max sessions", mutate: func(c *Config) { c.Relay.MaxSessions = -1 }},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			config := validBaseConfig()
			tc.mutate(&config)
			valid, _ := validateConfig(config)
			if valid {
				t.Fatalf("Expected config to be rejected")
			}
		})
	}
}

func TestConfigFromINI(t *testing.T) {
	content := `[server]
listen = 127.0.0.1:9900
url = https://panel.test
id = relay-1
key = secret

[hypervisor]
host = pve.test
token_id = root@pam!consoled
token_secret = token-secret
connect_timeout = 3

[relay]
max_sessions = 25

[redis]
address = 127.0.0.1:6379
db = 2
`

	tmpfile, err := os.CreateTemp("", "consoled-test-*.conf")
	if err != nil {
		t.Fatal(err)
	}
	defer os.Remove(tmpfile.Name())

	if _, err := tmpfile.Write([]byte(content)); err != nil {
		t.Fatal(err)
	}
	if err := tmpfile.Close(); err != nil {
		t.Fatal(err)
	}

	settings := LoadConfig([]string{tmpfile.Name()})

	if settings.ListenAddr != "127.0.0.1:9900" {
		t.Errorf("Expected listen addr from INI, got %s", settings.ListenAddr)
	}
	if settings.ConnectTimeout != 3*time.Second {
		t.Errorf("Expected connect timeout 3s from INI, got %s", settings.ConnectTimeout)
	}
	if settings.MaxSessions != 25 {
		t.Errorf("Expected max sessions 25 from INI, got %d", settings.MaxSessions)
	}
	if settings.RedisAddr != "127.0.0.1:6379" || settings.RedisDB != 2 {
		t.Errorf("Expected redis settings from INI, got %s db %d", settings.RedisAddr, settings.RedisDB)
	}
}

func TestTokenSecretFromEnvironment(t *testing.T) {
	t.Setenv("CONSOLED_HYPERVISOR_TOKEN_SECRET", "env-secret")

	config := validBaseConfig()
	config.Hypervisor.TokenSecret = ""
	valid, settings := validateConfig(config)
	if !valid {
		t.Fatal("Expected config with env token secret to be valid")
	}
	if settings.TokenSecret != "env-secret" {
		t.Errorf("Expected token secret from environment, got %q", settings.TokenSecret)
	}
}
