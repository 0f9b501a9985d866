package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Server configures the chatd reference backend.
type Server struct {
	Port               int    `env:"PORT" envDefault:"8000"`
	MasterSecret       string `env:"MASTER_SECRET"`
	GinMode            string `env:"GIN_MODE" envDefault:"release"`
	TLSCertFile        string `env:"TLS_CERT_FILE"`
	TLSKeyFile         string `env:"TLS_KEY_FILE"`
	TokenExpirySeconds int    `env:"TOKEN_EXPIRY_SECONDS" envDefault:"604800"`
	LogLevel           string `env:"LOG_LEVEL" envDefault:"info"`
	StateFile          string `env:"STATE_FILE"`
}

func (s Server) TokenExpiry() time.Duration {
	return time.Duration(s.TokenExpirySeconds) * time.Second
}

// Client configures the chatsync engine and CLI. Variables carry the
// CHATSYNC_ prefix.
type Client struct {
	APIURL           string        `env:"API_URL" envDefault:"http://127.0.0.1:8000"`
	StreamURL        string        `env:"STREAM_URL"`
	StateDir         string        `env:"STATE_DIR" envDefault:".chatsync"`
	TokenBackend     string        `env:"TOKEN_BACKEND" envDefault:"file"`
	RequestTimeout   time.Duration `env:"REQUEST_TIMEOUT" envDefault:"10s"`
	ReconnectDelay   time.Duration `env:"RECONNECT_DELAY" envDefault:"3s"`
	UserFetchRetries int           `env:"USER_FETCH_RETRIES" envDefault:"2"`
	UserFetchDelay   time.Duration `env:"USER_FETCH_DELAY" envDefault:"1s"`
	ActionErrorTTL   time.Duration `env:"ACTION_ERROR_TTL" envDefault:"5s"`
	LogLevel         string        `env:"LOG_LEVEL" envDefault:"warn"`
}

const clientPrefix = "CHATSYNC_"

func LoadServer() (Server, error) {
	return LoadServerFromEnv(environ())
}

func LoadServerFromEnv(environment map[string]string) (Server, error) {
	var cfg Server
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: environment}); err != nil {
		return Server{}, fmt.Errorf("parse env: %w", err)
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return Server{}, fmt.Errorf("invalid PORT")
	}
	if cfg.MasterSecret == "" {
		return Server{}, fmt.Errorf("MASTER_SECRET is required")
	}
	if cfg.TokenExpirySeconds <= 0 {
		return Server{}, fmt.Errorf("invalid TOKEN_EXPIRY_SECONDS")
	}
	return cfg, nil
}

func LoadClient() (Client, error) {
	return LoadClientFromEnv(environ())
}

func LoadClientFromEnv(environment map[string]string) (Client, error) {
	var cfg Client
	opts := env.Options{Environment: environment, Prefix: clientPrefix}
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Client{}, fmt.Errorf("parse env: %w", err)
	}

	u, err := url.Parse(cfg.APIURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return Client{}, fmt.Errorf("invalid %sAPI_URL", clientPrefix)
	}
	cfg.APIURL = strings.TrimRight(cfg.APIURL, "/")
	if cfg.StreamURL == "" {
		cfg.StreamURL = "ws" + strings.TrimPrefix(cfg.APIURL, "http")
	}
	cfg.StreamURL = strings.TrimRight(cfg.StreamURL, "/")

	if cfg.RequestTimeout <= 0 {
		return Client{}, fmt.Errorf("invalid %sREQUEST_TIMEOUT", clientPrefix)
	}
	if cfg.ReconnectDelay <= 0 {
		return Client{}, fmt.Errorf("invalid %sRECONNECT_DELAY", clientPrefix)
	}
	if cfg.UserFetchRetries < 0 {
		return Client{}, fmt.Errorf("invalid %sUSER_FETCH_RETRIES", clientPrefix)
	}
	return cfg, nil
}

func environ() map[string]string {
	out := make(map[string]string)
	for _, kv := range os.Environ() {
		k, v, ok := strings.Cut(kv, "=")
		if ok {
			out[k] = v
		}
	}
	return out
}
