// Package config loads runtime settings from defaults, an optional config
// file, environment variables and command-line flags, in that order of
// increasing precedence.
package config

import (
	"io/fs"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

const (
	envPrefix = "LIMITPASTE"

	defaultHTTPAddress     = ":8080"
	defaultStoreDriver     = DriverBolt
	defaultStorePath       = "limitpaste.db"
	defaultMongoCollection = "pastes"
	defaultDynamoTable     = "limitpaste-pastes"
	defaultMemoryCapacity  = 10000
	defaultStoreTimeout    = 5 * time.Second
	defaultMaxBytes        = 1 << 20
	defaultLogLevel        = "info"
)

// Storage drivers.
const (
	DriverBolt     = "bolt"
	DriverSQLite   = "sqlite"
	DriverMongo    = "mongo"
	DriverRedis    = "redis"
	DriverDynamoDB = "dynamodb"
	DriverMemory   = "memory"
)

// HTTPConfig configures the listener and URL construction.
type HTTPConfig struct {
	Address     string
	BaseURL     string
	FrontendURL string
	TrustProxy  bool
	CORSOrigins []string
}

// StoreConfig selects and configures the storage engine.
type StoreConfig struct {
	Driver          string
	Path            string
	MongoURI        string
	MongoDatabase   string
	MongoCollection string
	RedisURL        string
	DynamoTable     string
	DynamoEndpoint  string
	DynamoRegion    string
	MemoryCapacity  int
	Timeout         time.Duration
}

// AppConfig captures runtime configuration for the server.
type AppConfig struct {
	HTTP      HTTPConfig
	Store     StoreConfig
	MaxBytes  int
	LogLevel  string
	LogPretty bool
	TestMode  bool
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	v := viper.New()
	ApplyDefaults(v)
	return v
}

// ApplyDefaults configures defaults and env bindings on v.
func ApplyDefaults(v *viper.Viper) {
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("http.address", defaultHTTPAddress)
	v.SetDefault("http.trust_proxy", false)
	v.SetDefault("store.driver", defaultStoreDriver)
	v.SetDefault("store.path", defaultStorePath)
	v.SetDefault("store.mongo_collection", defaultMongoCollection)
	v.SetDefault("store.dynamodb_table", defaultDynamoTable)
	v.SetDefault("store.memory_capacity", defaultMemoryCapacity)
	v.SetDefault("store.timeout", defaultStoreTimeout)
	v.SetDefault("paste.max_bytes", defaultMaxBytes)
	v.SetDefault("log.level", defaultLogLevel)
	v.SetDefault("log.pretty", false)
	v.SetDefault("test_mode", false)

	// Names used by earlier deployments keep working.
	bindEnv(v, "store.mongo_uri", "MONGODB_URI")
	bindEnv(v, "http.base_url", "APP_URL")
	bindEnv(v, "http.frontend_url", "FRONTEND_URL")
	bindEnv(v, "http.port", "PORT")
	bindEnv(v, "test_mode", "TEST_MODE")
}

func bindEnv(v *viper.Viper, key, legacy string) {
	primary := envPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
	if err := v.BindEnv(key, primary, legacy); err != nil {
		panic(err)
	}
}

// LoadDotEnv loads the given dotenv files into the process environment.
// Variables already set are never overridden, so earlier files win.
// Missing files are skipped.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return errors.Wrapf(err, "load %s", p)
		}
	}
	return nil
}

// Load parses runtime configuration from v.
func Load(v *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTP: HTTPConfig{
			Address:     v.GetString("http.address"),
			BaseURL:     normalizeBaseURL(v.GetString("http.base_url")),
			FrontendURL: strings.TrimSuffix(strings.TrimSpace(v.GetString("http.frontend_url")), "/"),
			TrustProxy:  v.GetBool("http.trust_proxy"),
			CORSOrigins: splitList(v.GetStringSlice("http.cors_origins")),
		},
		Store: StoreConfig{
			Driver:          strings.ToLower(strings.TrimSpace(v.GetString("store.driver"))),
			Path:            v.GetString("store.path"),
			MongoURI:        v.GetString("store.mongo_uri"),
			MongoDatabase:   v.GetString("store.mongo_database"),
			MongoCollection: v.GetString("store.mongo_collection"),
			RedisURL:        v.GetString("store.redis_url"),
			DynamoTable:     v.GetString("store.dynamodb_table"),
			DynamoEndpoint:  v.GetString("store.dynamodb_endpoint"),
			DynamoRegion:    v.GetString("store.dynamodb_region"),
			MemoryCapacity:  v.GetInt("store.memory_capacity"),
			Timeout:         v.GetDuration("store.timeout"),
		},
		MaxBytes:  v.GetInt("paste.max_bytes"),
		LogLevel:  v.GetString("log.level"),
		LogPretty: v.GetBool("log.pretty"),
		TestMode:  parseFlag(v.GetString("test_mode")),
	}
	if port := strings.TrimSpace(v.GetString("http.port")); port != "" && cfg.HTTP.Address == defaultHTTPAddress {
		cfg.HTTP.Address = ":" + port
	}
	if len(cfg.HTTP.CORSOrigins) == 0 {
		cfg.HTTP.CORSOrigins = []string{"*"}
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.HTTP.Address) == "" {
		return errors.New("http.address is required")
	}
	if c.HTTP.BaseURL != "" {
		u, err := url.Parse(c.HTTP.BaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return errors.Errorf("http.base_url %q must include scheme and host", c.HTTP.BaseURL)
		}
	}
	if c.MaxBytes <= 0 {
		return errors.New("paste.max_bytes must be positive")
	}
	if c.Store.Timeout <= 0 {
		return errors.New("store.timeout must be positive")
	}
	switch c.Store.Driver {
	case DriverBolt, DriverSQLite:
		if strings.TrimSpace(c.Store.Path) == "" {
			return errors.Errorf("store.path is required for driver %s", c.Store.Driver)
		}
	case DriverMongo:
		if strings.TrimSpace(c.Store.MongoURI) == "" {
			return errors.New("store.mongo_uri (or MONGODB_URI) is required for driver mongo")
		}
	case DriverRedis:
		if strings.TrimSpace(c.Store.RedisURL) == "" {
			return errors.New("store.redis_url is required for driver redis")
		}
	case DriverDynamoDB:
		if strings.TrimSpace(c.Store.DynamoTable) == "" {
			return errors.New("store.dynamodb_table is required for driver dynamodb")
		}
	case DriverMemory:
	default:
		return errors.Errorf("unknown store.driver %q", c.Store.Driver)
	}
	return nil
}

// normalizeBaseURL accepts bare hosts ("paste.example.com") and assumes https.
func normalizeBaseURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		raw = "https://" + raw
	}
	return strings.TrimSuffix(raw, "/")
}

// splitList flattens comma-separated entries, as env vars carry lists that way.
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// parseFlag accepts the usual boolean spellings plus "1"/"0".
func parseFlag(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}
