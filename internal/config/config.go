package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type TelemetryConfig struct {
	LogLevel     string `yaml:"log_level"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`
}

type GoogleConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	RedirectURL  string `yaml:"redirect_url"`
}

type AuthConfig struct {
	TokenSecret     string       `yaml:"token_secret"`
	TokenTTLHours   int          `yaml:"token_ttl_hours"`
	PreviewIdentity string       `yaml:"preview_identity"`
	Google          GoogleConfig `yaml:"google"`
}

type LedgerConfig struct {
	StartingBalance     int64    `yaml:"starting_balance"`
	UnlimitedIdentities []string `yaml:"unlimited_identities"`
}

type ModelConfig struct {
	Mode        string `yaml:"mode"` // mock, gemini
	Endpoint    string `yaml:"endpoint"`
	APIKey      string `yaml:"api_key"`
	TextModel   string `yaml:"text_model"`
	SpeechModel string `yaml:"speech_model"`
	SampleRate  int    `yaml:"sample_rate"`
	MaxChars    int    `yaml:"max_chars"`
	TimeoutMS   int    `yaml:"timeout_ms"`
}

type GatewayConfig struct {
	RateLimitRPS   float64 `yaml:"rate_limit_rps"`
	RateLimitBurst int     `yaml:"rate_limit_burst"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type AuditConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxRows       int    `yaml:"max_rows"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type Config struct {
	ServiceName string          `yaml:"service_name"`
	Environment string          `yaml:"environment"`
	HTTP        HTTPConfig      `yaml:"http"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
	Auth        AuthConfig      `yaml:"auth"`
	Ledger      LedgerConfig    `yaml:"ledger"`
	Model       ModelConfig     `yaml:"model"`
	Gateway     GatewayConfig   `yaml:"gateway"`
	Bus         BusConfig       `yaml:"bus"`
	Audit       AuditConfig     `yaml:"audit"`
}

func Default() Config {
	return Config{
		ServiceName: "parla-core",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:     "info",
			OTLPEndpoint: "",
			OTLPInsecure: true,
		},
		Auth: AuthConfig{
			TokenSecret:     "parla-dev-secret",
			TokenTTLHours:   168,
			PreviewIdentity: "preview@parla.local",
		},
		Ledger: LedgerConfig{
			StartingBalance: 10000,
		},
		Model: ModelConfig{
			Mode:        "mock",
			Endpoint:    "https://generativelanguage.googleapis.com/v1beta",
			TextModel:   "gemini-2.5-flash",
			SpeechModel: "gemini-2.5-flash-preview-tts",
			SampleRate:  24000,
			MaxChars:    5000,
			TimeoutMS:   60000,
		},
		Gateway: GatewayConfig{
			RateLimitRPS:   10,
			RateLimitBurst: 20,
		},
		Bus: BusConfig{
			Enabled:        false,
			Embedded:       true,
			Port:           4222,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Audit: AuditConfig{
			Path:          "./data/parla-audit.db",
			RetentionMode: "ephemeral",
			RetentionDays: 30,
			MaxRows:       100000,
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.ServiceName, "PARLA_SERVICE_NAME")
	overrideString(&cfg.Environment, "PARLA_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "PARLA_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "PARLA_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "PARLA_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "PARLA_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "PARLA_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Auth.TokenSecret, "PARLA_AUTH_TOKEN_SECRET")
	overrideInt(&cfg.Auth.TokenTTLHours, "PARLA_AUTH_TOKEN_TTL_HOURS")
	overrideString(&cfg.Auth.PreviewIdentity, "PARLA_AUTH_PREVIEW_IDENTITY")
	overrideString(&cfg.Auth.Google.ClientID, "PARLA_AUTH_GOOGLE_CLIENT_ID")
	overrideString(&cfg.Auth.Google.ClientSecret, "PARLA_AUTH_GOOGLE_CLIENT_SECRET")
	overrideString(&cfg.Auth.Google.RedirectURL, "PARLA_AUTH_GOOGLE_REDIRECT_URL")
	overrideInt64(&cfg.Ledger.StartingBalance, "PARLA_LEDGER_STARTING_BALANCE")
	overrideStringSlice(&cfg.Ledger.UnlimitedIdentities, "PARLA_LEDGER_UNLIMITED_IDENTITIES")
	overrideString(&cfg.Model.Mode, "PARLA_MODEL_MODE")
	overrideString(&cfg.Model.Endpoint, "PARLA_MODEL_ENDPOINT")
	overrideString(&cfg.Model.APIKey, "PARLA_MODEL_API_KEY")
	overrideString(&cfg.Model.TextModel, "PARLA_MODEL_TEXT_MODEL")
	overrideString(&cfg.Model.SpeechModel, "PARLA_MODEL_SPEECH_MODEL")
	overrideInt(&cfg.Model.SampleRate, "PARLA_MODEL_SAMPLE_RATE")
	overrideInt(&cfg.Model.MaxChars, "PARLA_MODEL_MAX_CHARS")
	overrideInt(&cfg.Model.TimeoutMS, "PARLA_MODEL_TIMEOUT_MS")
	overrideFloat(&cfg.Gateway.RateLimitRPS, "PARLA_GATEWAY_RATE_LIMIT_RPS")
	overrideInt(&cfg.Gateway.RateLimitBurst, "PARLA_GATEWAY_RATE_LIMIT_BURST")
	overrideBool(&cfg.Bus.Enabled, "PARLA_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "PARLA_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "PARLA_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "PARLA_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "PARLA_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "PARLA_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "PARLA_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "PARLA_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "PARLA_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Audit.Path, "PARLA_AUDIT_PATH")
	overrideString(&cfg.Audit.RetentionMode, "PARLA_AUDIT_RETENTION_MODE")
	overrideInt(&cfg.Audit.RetentionDays, "PARLA_AUDIT_RETENTION_DAYS")
	overrideInt(&cfg.Audit.MaxRows, "PARLA_AUDIT_MAX_ROWS")
	overrideBool(&cfg.Audit.VacuumOnStart, "PARLA_AUDIT_VACUUM_ON_START")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideInt64(target *int64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseInt(value, 10, 64); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

// GoogleConfigured reports whether a real identity provider is available.
// When false the service falls back to preview-mode sessions.
func (a AuthConfig) GoogleConfigured() bool {
	return a.Google.ClientID != "" && a.Google.ClientSecret != ""
}

func validate(cfg Config) error {
	if cfg.ServiceName == "" {
		return errors.New("service_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Auth.TokenSecret == "" {
		return errors.New("auth.token_secret must not be empty")
	}
	if cfg.Auth.TokenTTLHours <= 0 {
		return errors.New("auth.token_ttl_hours must be positive")
	}
	if cfg.Auth.Google.ClientID != "" && cfg.Auth.Google.ClientSecret == "" {
		return errors.New("auth.google.client_secret must be set when client_id is set")
	}
	if cfg.Auth.GoogleConfigured() && cfg.Auth.Google.RedirectURL == "" {
		return errors.New("auth.google.redirect_url must be set when google auth is configured")
	}
	if !cfg.Auth.GoogleConfigured() && cfg.Auth.PreviewIdentity == "" {
		return errors.New("auth.preview_identity must not be empty when google auth is not configured")
	}
	if cfg.Ledger.StartingBalance < 0 {
		return errors.New("ledger.starting_balance must be >= 0")
	}
	switch cfg.Model.Mode {
	case "mock", "gemini":
	default:
		return errors.New("model.mode must be one of mock|gemini")
	}
	if cfg.Model.Mode == "gemini" {
		if cfg.Model.APIKey == "" {
			return errors.New("model.api_key must be set when mode=gemini")
		}
		if cfg.Model.Endpoint == "" {
			return errors.New("model.endpoint must be set when mode=gemini")
		}
	}
	if cfg.Model.SampleRate <= 0 {
		return errors.New("model.sample_rate must be positive")
	}
	if cfg.Model.MaxChars <= 0 {
		return errors.New("model.max_chars must be positive")
	}
	if cfg.Model.TimeoutMS <= 0 {
		return errors.New("model.timeout_ms must be positive")
	}
	if cfg.Gateway.RateLimitRPS <= 0 {
		return errors.New("gateway.rate_limit_rps must be positive")
	}
	if cfg.Gateway.RateLimitBurst <= 0 {
		return errors.New("gateway.rate_limit_burst must be positive")
	}
	if cfg.Bus.Enabled {
		if cfg.Bus.Embedded {
			if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
				return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
			}
		} else if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if cfg.Audit.Path == "" {
		return errors.New("audit.path must not be empty")
	}
	switch cfg.Audit.RetentionMode {
	case "ephemeral", "session", "persistent":
		// ok
	default:
		return errors.New("audit.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.Audit.RetentionDays < 0 {
		return errors.New("audit.retention_days must be >= 0")
	}
	return nil
}
