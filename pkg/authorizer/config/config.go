//
//  Copyright © CWMS Data Project. All rights reserved.
//

// Package config provides configuration management for the authorizer
// using [Viper] for flexible configuration sources.
//
// Configuration can be provided via:
//   - YAML configuration files
//   - Environment variables with the CWA_ prefix
//   - Programmatic defaults
//
// # Configuration File
//
// By default, the authorizer looks for cwa-config.yaml in the current
// directory. Override the location using environment variables:
//
//	CWA_CONFIG_PATH=/etc/authorizer
//	CWA_CONFIG_FILENAME=production-config
//
// # Environment Variables
//
// All configuration keys can be set via environment variables with the CWA_
// prefix. Dots in key names become underscores:
//
//	CWA_LOG_LEVEL=.:debug
//	CWA_OPA_URL=http://opa:8181
//	CWA_OPA_BYPASS=true
//	CWA_WHITELIST_ENDPOINTS='["/cwms-data/timeseries","/cwms-data/offices"]'
//
// [Viper]: https://github.com/spf13/viper
package config

import (
	"errors"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/cwms-data/authorizer/internal/logging"
	"github.com/spf13/viper"
)

// Environment variable and default path constants for configuration loading.
const (
	// EnvVarPrefix is the prefix for all authorizer environment variables.
	// For example, the key "log.level" becomes CWA_LOG_LEVEL.
	EnvVarPrefix string = "CWA"

	// ConfigPathEnv is the environment variable that specifies the directory
	// containing the configuration file.
	ConfigPathEnv string = "CWA_CONFIG_PATH"

	// ConfigFileNameEnv is the environment variable that specifies the
	// configuration file name (without extension).
	ConfigFileNameEnv string = "CWA_CONFIG_FILENAME"

	// ConfigDefaultPath is the default directory to search for config files.
	ConfigDefaultPath string = "."

	// ConfigDefaultFilename is the default configuration file name (without extension).
	ConfigDefaultFilename string = "cwa-config"
)

// Configuration key constants for use with [VConfig].
const (
	logLevel string = "log.level"

	// ProxyListen is the listen address of the enforcement-point server.
	ProxyListen string = "proxy.listen"

	// ProxyUpstream is the base URL of the upstream CWMS data API that
	// allowed requests are forwarded to.
	ProxyUpstream string = "proxy.upstream"

	// APIURL is the base URL of the identity service (the CWMS data API's
	// user endpoints) used to resolve user context.
	APIURL string = "api.url"

	// APITimeout bounds identity-service calls.
	APITimeout string = "api.timeout"

	// APIKey is an optional service credential presented to the identity
	// service when no caller bearer token is available.
	APIKey string = "api.key"

	// OpaURL is the base URL of the external policy engine.
	OpaURL string = "opa.url"

	// OpaPolicyPath is the decision document path queried on the engine.
	OpaPolicyPath string = "opa.policypath"

	// OpaTimeout bounds policy-engine calls.
	OpaTimeout string = "opa.timeout"

	// OpaBypass selects fail-open behavior when the policy engine is
	// unreachable. The default is fail-closed (deny).
	//
	// Set via environment: CWA_OPA_BYPASS=true
	OpaBypass string = "opa.bypass"

	// OpaEmbeddedModule, when set to a rego module path, replaces the
	// remote engine with in-process evaluation of that module.
	OpaEmbeddedModule string = "opa.embedded.module"

	// DecisionCacheTTL is the lifetime of cached policy decisions.
	DecisionCacheTTL string = "cache.decision.ttl"

	// DecisionCacheSweep is the interval of the background eviction sweep.
	DecisionCacheSweep string = "cache.decision.sweep"

	// IdentityCacheTTL is the lifetime of cached user-context records.
	IdentityCacheTTL string = "cache.identity.ttl"

	// RedisURL is the address of the shared identity-cache store. When
	// unset or unreachable, identity caching degrades to always-miss.
	RedisURL string = "redis.url"

	// WhitelistEndpoints is a JSON array of path strings naming the
	// upstream endpoints that require authorization. A malformed value
	// degrades to an empty whitelist.
	WhitelistEndpoints string = "whitelist.endpoints"
)

var (
	once     sync.Once
	loadOnce sync.Once
	loadErr  error

	// VConfig is the global Viper configuration instance for the authorizer.
	//
	// Use the configuration key constants ([OpaURL], [OpaBypass], etc.) to
	// access specific settings:
	//
	//	if config.VConfig.GetBool(config.OpaBypass) {
	//	    // fail-open on engine outage
	//	}
	VConfig *viper.Viper
	logger  = logging.GetLogger("authorizer.config")
)

// Init initializes the configuration system without loading config files.
//
// Init sets up Viper with configuration file paths, CWA_ environment
// variable handling, and defaults for all configuration keys. It is safe
// to call multiple times; subsequent calls are no-ops.
func Init() {
	once.Do(doInitialize)
}

func getConfigPath() string {
	if configPath, ok := os.LookupEnv(ConfigPathEnv); ok {
		return configPath
	}
	return ConfigDefaultPath
}

func getConfigFileName() string {
	if configName, ok := os.LookupEnv(ConfigFileNameEnv); ok {
		return configName
	}
	return ConfigDefaultFilename
}

func doInitialize() {
	VConfig = viper.New()

	// set up config-file loading: default is './cwa-config.yaml' but can be
	// overridden with $(CWA_CONFIG_PATH)/$(CWA_CONFIG_FILENAME).yaml
	VConfig.AddConfigPath(getConfigPath())
	VConfig.SetConfigName(getConfigFileName())
	VConfig.SetConfigType("yaml")

	// set up envvar handling: keys such as 'log.level' become 'CWA_LOG_LEVEL'
	VConfig.SetEnvPrefix(EnvVarPrefix)
	VConfig.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	VConfig.AutomaticEnv()

	VConfig.SetDefault(logLevel, ".:info")
	VConfig.SetDefault(ProxyListen, ":3001")
	VConfig.SetDefault(ProxyUpstream, "http://localhost:7001/cwms-data")
	VConfig.SetDefault(APIURL, "http://localhost:7001/cwms-data")
	VConfig.SetDefault(APITimeout, 30*time.Second)
	VConfig.SetDefault(APIKey, "")
	VConfig.SetDefault(OpaURL, "http://localhost:8181")
	VConfig.SetDefault(OpaPolicyPath, "/v1/data/cwms/authorize")
	VConfig.SetDefault(OpaTimeout, 5*time.Second)
	VConfig.SetDefault(OpaBypass, false)
	VConfig.SetDefault(OpaEmbeddedModule, "")
	VConfig.SetDefault(DecisionCacheTTL, 300*time.Second)
	VConfig.SetDefault(DecisionCacheSweep, time.Minute)
	VConfig.SetDefault(IdentityCacheTTL, 30*time.Minute)
	VConfig.SetDefault(RedisURL, "redis://localhost:6379")
	VConfig.SetDefault(WhitelistEndpoints, `["/cwms-data/timeseries","/cwms-data/offices"]`)
}

// Load initializes configuration and loads settings from files and environment.
//
// Load performs the following steps:
//  1. Calls [Init] if not already called
//  2. Reads the configuration file (if present; missing files are not an error)
//  3. Applies environment variable overrides
//  4. Updates log levels based on configuration
//
// Safe to call concurrently; subsequent calls after the first successful
// load are no-ops that return nil.
func Load() error {
	loadOnce.Do(func() {
		Init()

		// Early log level update from environment variable allows us to debug the config loading.
		if earlyLoglevel := os.Getenv("CWA_LOG_LEVEL"); earlyLoglevel != "" {
			if err := logging.UpdateLogLevels(earlyLoglevel); err != nil {
				logger.SysErrorf("Failed updating early log level %s: %+v", earlyLoglevel, err)
				loadErr = err
				return
			}
		}

		logger.SysDebugf("Loading configuration from %s/%s.yaml", getConfigPath(), getConfigFileName())
		if err := VConfig.ReadInConfig(); err != nil {
			// Only log if it's an actual error, not just a missing config file
			var configNotFound viper.ConfigFileNotFoundError
			if !errors.As(err, &configNotFound) {
				logger.SysWarnf("error reading config; using defaults: %+v", err)
			}
			logger.SysDebugf("No config file found at %s/%s.yaml", getConfigPath(), getConfigFileName())
		}

		loglevel := VConfig.GetString(logLevel)
		if err := logging.UpdateLogLevels(loglevel); err != nil {
			logger.SysErrorf("Failed updating log level %s: %+v", loglevel, err)
			loadErr = err
			return
		}
	})

	return loadErr
}

// ResetConfig clears all configuration and reinitializes with defaults.
//
// WARNING: This function is intended for testing only. It resets the global
// configuration state, which can cause race conditions in concurrent code.
func ResetConfig() {
	VConfig = nil
	once = sync.Once{}
	loadOnce = sync.Once{}
	loadErr = nil
	Init()
	_ = Load()
}
