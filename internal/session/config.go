package session

import "time"

// BackoffConfig defines retry backoff behavior for connect attempts.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

// SecurityMode gates how strict transport validation is.
type SecurityMode string

const (
	SecurityModeDevelopment SecurityMode = "development"
	SecurityModeProduction  SecurityMode = "production"
)

// TLSConfig describes the optional TLS wrap of the agent transport.
type TLSConfig struct {
	Enabled            bool
	Mutual             bool
	InsecureSkipVerify bool
	ServerName         string
	CAFile             string
	CertFile           string
	KeyFile            string
}

// Config defines session transport and reliability defaults.
type Config struct {
	ConnectTimeout   time.Duration
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration

	// RequestTimeout resolves a pending request with ErrTimeout without
	// disconnecting. Zero disables per-request timeouts.
	RequestTimeout time.Duration

	// MaxConnectAttempts bounds dial retries inside one Connect call.
	// Values below 1 mean a single attempt.
	MaxConnectAttempts int

	Backoff      BackoffConfig
	SecurityMode SecurityMode
	TLS          TLSConfig
}

func DefaultConfig() Config {
	return Config{
		ConnectTimeout:     5 * time.Second,
		HandshakeTimeout:   5 * time.Second,
		WriteTimeout:       15 * time.Second,
		RequestTimeout:     0,
		MaxConnectAttempts: 1,
		Backoff: BackoffConfig{
			InitialDelay: 250 * time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     5 * time.Second,
			Jitter:       true,
		},
		SecurityMode: SecurityModeDevelopment,
	}
}

// WithDefaults fills zero-valued timing fields from DefaultConfig.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = def.ConnectTimeout
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = def.HandshakeTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.MaxConnectAttempts < 1 {
		c.MaxConnectAttempts = def.MaxConnectAttempts
	}
	if c.Backoff.InitialDelay <= 0 {
		c.Backoff = def.Backoff
	}
	return c
}
