package config

import (
	"strings"
	"time"
)

const (
	keychainService = "taskui"
	keychainAccount = "api_token"
)

type Config struct {
	Server  ServerConfig
	API     APIConfig
	Geocode GeocodeConfig
	Preview PreviewConfig
	Storage StorageConfig
	Log     LogConfig
}

type ServerConfig struct {
	Port int
}

// APIConfig points at the marketplace API. Token is the credential attached
// to profile requests; it is optional until a request needs it.
type APIConfig struct {
	BaseURL string
	Timeout time.Duration
	Token   string
}

type GeocodeConfig struct {
	BaseURL  string
	Timeout  time.Duration
	CacheTTL time.Duration
}

type PreviewConfig struct {
	MaxDim int
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4100,
		},
		API: APIConfig{
			BaseURL: "https://api.connectmytask.xyz",
			Timeout: 30 * time.Second,
		},
		Geocode: GeocodeConfig{
			BaseURL:  "https://nominatim.openstreetmap.org",
			Timeout:  10 * time.Second,
			CacheTTL: 30 * 24 * time.Hour,
		},
		Preview: PreviewConfig{
			MaxDim: 256,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the platform-native backend, environment
// variables, and platform secret store.
//
// On macOS the backend is UserDefaults (domain: com.connectmytask.taskui)
// and the API token lives in the login Keychain.
// On Linux the backend is a JSON file at $XDG_CONFIG_HOME/taskui/config.json
// and the token is kept in $XDG_DATA_HOME/taskui/secrets.json.
//
// Environment variables (TASKUI_*) override backend values on all platforms.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), keychainStore{})
}

// keychain abstracts secret storage for testing.
type keychain interface {
	Get(service, account string) (string, error)
}

func loadWith(b ConfigBackend, kc keychain) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	// The env var wins; otherwise fall back to the stored token.
	if cfg.API.Token == "" {
		if tok, err := kc.Get(keychainService, keychainAccount); err == nil && tok != "" {
			cfg.API.Token = tok
		}
	}

	return cfg, nil
}

// keychainStore reads and writes the platform secret store.
type keychainStore struct{}

func (keychainStore) Get(service, account string) (string, error) {
	out, err := keychainGet(service, account)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

// SetToken stores the API token in the platform secret store.
func SetToken(token string) error {
	return keychainSet(keychainService, keychainAccount, token)
}

// DeleteToken removes the stored API token. Deleting a missing token is not
// an error.
func DeleteToken() error {
	return keychainDelete(keychainService, keychainAccount)
}

// TokenHint tells the user where the API token can be provided.
func TokenHint() string {
	return "set TASKUI_API_TOKEN or run `taskui login`" + tokenStoreHint()
}
