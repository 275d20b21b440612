package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/ini.v1"
)

var (
	GlobalSettings Settings
)

const (
	DefaultListenAddr     = "0.0.0.0:8900"
	DefaultConnectTimeout = 8 * time.Second

	// Pool configuration defaults
	DefaultPoolMaxWorkers = 10
	DefaultPoolQueueSize  = 100
	DefaultHTTPThreads    = 4

	// Limits used for configuration sanity warnings
	MaxReasonableSessions = 10000
	MaxReasonableWorkers  = 1000
)

func InitSettings(settings Settings) {
	GlobalSettings = settings
}

func LoadConfig(configFiles []string) Settings {
	var iniData *ini.File
	var err error
	var validConfigFile string

	// Secrets may be supplied through a .env file instead of the config file.
	_ = godotenv.Load()

	for _, configFile := range configFiles {
		fileInfo, statErr := os.Stat(configFile)
		if statErr != nil {
			if os.IsNotExist(statErr) {
				continue
			} else {
				log.Error().Err(statErr).Msgf("Error accessing config file %s.", configFile)
				continue
			}
		}

		if fileInfo.Size() == 0 {
			log.Debug().Msgf("Config file %s is empty, skipping...", configFile)
			continue
		}

		log.Debug().Msgf("Using config file %s.", configFile)
		validConfigFile = configFile
		break
	}

	if validConfigFile == "" {
		log.Fatal().Msg("No valid config file found.")
	}

	iniData, err = ini.Load(validConfigFile)
	if err != nil {
		log.Fatal().Err(err).Msgf("failed to load config file %s.", validConfigFile)
	}

	var config Config
	err = iniData.MapTo(&config)
	if err != nil {
		log.Fatal().Err(err).Msgf("failed to parse config file %s.", validConfigFile)
	}

	if config.Logging.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	isValid, settings := validateConfig(config)

	if !isValid {
		log.Fatal().Msg("Aborting...")
	}

	return settings
}

func validateConfig(config Config) (bool, Settings) {
	log.Debug().Msg("Validating configuration fields...")

	settings := Settings{
		ListenAddr:     DefaultListenAddr,
		SSLVerify:      true,
		ConnectTimeout: DefaultConnectTimeout,
		HTTPThreads:    DefaultHTTPThreads,
		PoolMaxWorkers: DefaultPoolMaxWorkers,
		PoolQueueSize:  DefaultPoolQueueSize,
	}

	valid := true

	if config.Server.Listen != "" {
		settings.ListenAddr = config.Server.Listen
	}

	val := config.Server.URL
	if strings.HasPrefix(val, "http://") || strings.HasPrefix(val, "https://") {
		settings.PanelURL = strings.TrimSuffix(val, "/")
	} else {
		log.Error().Msg("Panel server url is invalid.")
		valid = false
	}

	settings.ID = config.Server.ID
	settings.Key = firstNonEmpty(os.Getenv("CONSOLED_SERVER_KEY"), config.Server.Key)
	if settings.ID == "" || settings.Key == "" {
		log.Error().Msg("Server ID, KEY is empty.")
		valid = false
	}

	if config.Hypervisor.Host == "" {
		log.Error().Msg("Hypervisor host is empty.")
		valid = false
	}
	settings.HypervisorHost = config.Hypervisor.Host

	settings.TokenID = config.Hypervisor.TokenID
	settings.TokenSecret = firstNonEmpty(os.Getenv("CONSOLED_HYPERVISOR_TOKEN_SECRET"), config.Hypervisor.TokenSecret)
	if settings.TokenID == "" || settings.TokenSecret == "" {
		log.Error().Msg("Hypervisor API token is not configured.")
		valid = false
	} else if !strings.Contains(settings.TokenID, "!") {
		log.Error().Msgf("Hypervisor token id %q must be of the form user@realm!name.", settings.TokenID)
		valid = false
	}

	if config.Hypervisor.ConnectTimeout > 0 {
		settings.ConnectTimeout = time.Duration(config.Hypervisor.ConnectTimeout) * time.Second
	}

	settings.SSLVerify = config.SSL.Verify
	settings.UseSSL = true
	if !settings.SSLVerify {
		log.Warn().Msg(
			"SSL verification is turned off. " +
				"Please be aware that this setting is not appropriate for production use.",
		)
	} else if config.SSL.CaCert != "" {
		if _, err := os.Stat(config.SSL.CaCert); os.IsNotExist(err) {
			log.Error().Msg("Given path for CA certificate does not exist.")
			valid = false
		} else {
			settings.CaCert = config.SSL.CaCert
		}
	}

	if config.Relay.MaxSessions < 0 {
		log.Error().Msg("Relay max_sessions must not be negative.")
		valid = false
	}
	settings.MaxSessions = config.Relay.MaxSessions
	if settings.MaxSessions > MaxReasonableSessions {
		log.Warn().Msgf("Relay max_sessions (%d) seems very high, consider reducing it", settings.MaxSessions)
	}

	settings.RedisAddr = config.Redis.Address
	settings.RedisPassword = config.Redis.Password
	settings.RedisDB = config.Redis.DB

	if config.Pool.MaxWorkers > 0 {
		settings.PoolMaxWorkers = config.Pool.MaxWorkers
	}
	if config.Pool.QueueSize > 0 {
		settings.PoolQueueSize = config.Pool.QueueSize
	}
	if settings.PoolMaxWorkers > MaxReasonableWorkers {
		log.Warn().Msgf("Pool max workers (%d) seems very high, consider reducing it", settings.PoolMaxWorkers)
	}

	return valid, settings
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func Files(name string) []string {
	return []string{
		fmt.Sprintf("/etc/consoled/%s.conf", name),
		filepath.Join(os.Getenv("HOME"), fmt.Sprintf(".%s.conf", name)),
	}
}
