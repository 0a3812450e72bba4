package webhook

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/edgeflare/sensorhub/pkg/broker"
	"github.com/edgeflare/sensorhub/pkg/httputil"
	"github.com/edgeflare/sensorhub/pkg/sink"
	"go.uber.org/zap"
)

// AuthType represents supported authentication methods
type AuthType string

const (
	AuthTypeNone   AuthType = "none"
	AuthTypeAPIKey AuthType = "apikey"
	AuthTypeBearer AuthType = "bearer"
	AuthTypeBasic  AuthType = "basic"
)

// AuthConfig holds authentication configuration
type AuthConfig struct {
	Type AuthType `json:"type"`
	// API Key settings
	APIKey     string `json:"apiKey,omitempty"`
	APIKeyName string `json:"apiKeyName,omitempty"` // Header name for API key
	// Basic auth settings
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	// Bearer settings
	Token     string `json:"token,omitempty"`
	TokenFile string `json:"tokenFile,omitempty"` // Path to token file, read on connect
}

// RetryConfig holds retry settings for failed webhook attempts
type RetryConfig struct {
	MaxRetries  int    `json:"maxRetries"`
	InitialWait string `json:"initialWait"`
	MaxWait     string `json:"maxWait"`
}

// EndpointConfig represents configuration for a single endpoint
type EndpointConfig struct {
	Headers map[string]string `json:"headers,omitempty"`
	URL     string            `json:"url"`
	Method  string            `json:"method,omitempty"`
}

// Config is the webhook sink configuration.
type Config struct {
	Auth      AuthConfig       `json:"auth"`
	Timeout   string           `json:"timeout"`
	Endpoints []EndpointConfig `json:"endpoints"`
	Retry     RetryConfig      `json:"retry"`
	// Body selects what is sent: "event" (default) or "value" (the record only).
	Body string `json:"body"`
}

// SinkWebhook sends every event to the configured HTTP endpoints.
type SinkWebhook struct {
	client      *http.Client
	logger      *zap.Logger
	auth        AuthConfig
	body        string
	endpoints   []EndpointConfig
	maxRetries  int
	initialWait time.Duration
	maxWait     time.Duration
}

// Connect initializes the HTTP client with the provided configuration
func (s *SinkWebhook) Connect(config json.RawMessage, logger *zap.Logger) error {
	var cfg Config
	if err := json.Unmarshal(config, &cfg); err != nil {
		return fmt.Errorf("failed to unmarshal webhook config: %w", err)
	}

	if len(cfg.Endpoints) == 0 {
		return fmt.Errorf("no endpoints configured")
	}

	timeout, err := parseDuration(cfg.Timeout, 30*time.Second)
	if err != nil {
		return fmt.Errorf("invalid timeout duration: %w", err)
	}
	if s.initialWait, err = parseDuration(cfg.Retry.InitialWait, time.Second); err != nil {
		return fmt.Errorf("invalid retry.initialWait: %w", err)
	}
	if s.maxWait, err = parseDuration(cfg.Retry.MaxWait, 30*time.Second); err != nil {
		return fmt.Errorf("invalid retry.maxWait: %w", err)
	}

	s.maxRetries = cfg.Retry.MaxRetries
	if s.maxRetries == 0 {
		s.maxRetries = 3
	}

	for i := range cfg.Endpoints {
		if cfg.Endpoints[i].Method == "" {
			cfg.Endpoints[i].Method = http.MethodPost
		}
	}
	if cfg.Auth.Type == "" {
		cfg.Auth.Type = AuthTypeNone
	}
	switch cfg.Body {
	case "", "event":
		cfg.Body = "event"
	case "value":
	default:
		return fmt.Errorf("invalid body %q, want event or value", cfg.Body)
	}

	s.logger = logger
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	s.client = &http.Client{Timeout: timeout}
	s.endpoints = cfg.Endpoints
	s.auth = cfg.Auth
	s.body = cfg.Body

	if err := s.validateAuth(); err != nil {
		return err
	}

	s.logger.Info("webhook sink initialized",
		zap.Int("num_endpoints", len(cfg.Endpoints)),
		zap.String("auth_type", string(cfg.Auth.Type)),
		zap.Duration("timeout", timeout))
	return nil
}

func parseDuration(s string, def time.Duration) (time.Duration, error) {
	if s == "" {
		return def, nil
	}
	return time.ParseDuration(s)
}

func (s *SinkWebhook) validateAuth() error {
	switch s.auth.Type {
	case AuthTypeNone:
	case AuthTypeAPIKey:
		if s.auth.APIKey == "" {
			return fmt.Errorf("API key authentication requires an API key")
		}
		if s.auth.APIKeyName == "" {
			s.auth.APIKeyName = "X-API-Key" // default header name
		}
	case AuthTypeBasic:
		if s.auth.Username == "" || s.auth.Password == "" {
			return fmt.Errorf("basic authentication requires both username and password")
		}
	case AuthTypeBearer:
		if s.auth.Token == "" && s.auth.TokenFile == "" {
			return fmt.Errorf("bearer authentication requires either token or token file")
		}
		if s.auth.Token == "" {
			token, err := os.ReadFile(s.auth.TokenFile)
			if err != nil {
				return fmt.Errorf("read token file: %w", err)
			}
			s.auth.Token = strings.TrimSpace(string(token))
		}
	default:
		return fmt.Errorf("unsupported auth type %q", s.auth.Type)
	}
	return nil
}

// Pub sends the event to every configured endpoint. All endpoints are tried;
// the returned error joins the failures.
func (s *SinkWebhook) Pub(ctx context.Context, event broker.Event) error {
	if s.client == nil {
		return sink.ErrNotConnected
	}

	var payload []byte
	var err error
	if s.body == "value" {
		payload = event.Value
	} else {
		payload, err = json.Marshal(event)
		if err != nil {
			return fmt.Errorf("failed to marshal event: %w", err)
		}
	}

	var errs []error
	for _, endpoint := range s.endpoints {
		config := httputil.DefaultRequestConfig(endpoint.Method, endpoint.URL)
		config.Client = s.client
		config.Headers = s.buildHeaders(endpoint)
		config.Logger = s.logger
		config.MaxRetries = s.maxRetries
		config.InitialBackoff = s.initialWait
		config.MaxBackoff = s.maxWait

		if _, err := httputil.Request(ctx, config, payload); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", endpoint.URL, err))
		}
	}
	return errors.Join(errs...)
}

func (s *SinkWebhook) buildHeaders(endpoint EndpointConfig) map[string][]string {
	headers := make(map[string][]string)

	for key, value := range endpoint.Headers {
		headers[key] = []string{value}
	}

	switch s.auth.Type {
	case AuthTypeAPIKey:
		headers[s.auth.APIKeyName] = []string{s.auth.APIKey}
	case AuthTypeBasic:
		headers["Authorization"] = []string{"Basic " + basicAuth(s.auth.Username, s.auth.Password)}
	case AuthTypeBearer:
		headers["Authorization"] = []string{"Bearer " + s.auth.Token}
	}

	return headers
}

func basicAuth(username, password string) string {
	auth := username + ":" + password
	return base64.StdEncoding.EncodeToString([]byte(auth))
}

func (s *SinkWebhook) Disconnect() error {
	if s.client != nil {
		s.client.CloseIdleConnections()
	}
	return nil
}

func init() {
	sink.RegisterConnector(sink.ConnectorWebhook, func() sink.Connector { return &SinkWebhook{} })
}
