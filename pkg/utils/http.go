package utils

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/http"
	"os"
	"runtime"

	"github.com/rs/zerolog/log"

	"github.com/ucpcloud/consoled/pkg/config"
	"github.com/ucpcloud/consoled/pkg/version"
)

// NewTLSConfig builds a TLS configuration from global settings.
func NewTLSConfig() *tls.Config {
	tlsConfig := &tls.Config{
		InsecureSkipVerify: !config.GlobalSettings.SSLVerify,
	}

	if config.GlobalSettings.CaCert != "" {
		caCertPool := x509.NewCertPool()
		if caCert, err := os.ReadFile(config.GlobalSettings.CaCert); err == nil {
			caCertPool.AppendCertsFromPEM(caCert)
			tlsConfig.RootCAs = caCertPool
		} else {
			log.Error().Err(err).Msg("Failed to read CA certificate.")
		}
	}

	return tlsConfig
}

// NewHTTPClient creates an HTTP client with TLS configuration from global settings.
func NewHTTPClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{TLSClientConfig: NewTLSConfig()},
	}
}

func IsSuccessStatusCode(code int) bool {
	return code >= 200 && code < 300
}

func GetUserAgent(name string) string {
	return fmt.Sprintf("%s/%s (%s; %s)", name, version.Version, runtime.GOOS, runtime.GOARCH)
}
