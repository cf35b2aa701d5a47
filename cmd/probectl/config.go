package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/danmuck/probectl/internal/session"
)

// fileConfig is the TOML session profile. Every key is optional; absent
// keys keep the session defaults.
type fileConfig struct {
	Addr               string `toml:"addr"`
	ConnectTimeout     string `toml:"connect_timeout"`
	HandshakeTimeout   string `toml:"handshake_timeout"`
	WriteTimeout       string `toml:"write_timeout"`
	RequestTimeout     string `toml:"request_timeout"`
	MaxConnectAttempts int    `toml:"max_connect_attempts"`
	SecurityMode       string `toml:"security_mode"`

	Backoff struct {
		InitialDelay string  `toml:"initial_delay"`
		Multiplier   float64 `toml:"multiplier"`
		MaxDelay     string  `toml:"max_delay"`
		Jitter       bool    `toml:"jitter"`
	} `toml:"backoff"`

	TLS struct {
		Enabled            bool   `toml:"enabled"`
		Mutual             bool   `toml:"mutual"`
		InsecureSkipVerify bool   `toml:"insecure_skip_verify"`
		ServerName         string `toml:"server_name"`
		CAFile             string `toml:"ca_file"`
		CertFile           string `toml:"cert_file"`
		KeyFile            string `toml:"key_file"`
	} `toml:"tls"`
}

// loadSessionConfig reads a profile. The second return is the agent address
// the profile names, empty when it does not.
func loadSessionConfig(path string) (session.Config, string, error) {
	cfg := session.DefaultConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return session.Config{}, "", fmt.Errorf("load session config: %w", err)
	}

	if err := overrideDuration(meta, &cfg.ConnectTimeout, raw.ConnectTimeout, "connect_timeout"); err != nil {
		return session.Config{}, "", err
	}
	if err := overrideDuration(meta, &cfg.HandshakeTimeout, raw.HandshakeTimeout, "handshake_timeout"); err != nil {
		return session.Config{}, "", err
	}
	if err := overrideDuration(meta, &cfg.WriteTimeout, raw.WriteTimeout, "write_timeout"); err != nil {
		return session.Config{}, "", err
	}
	if err := overrideDuration(meta, &cfg.RequestTimeout, raw.RequestTimeout, "request_timeout"); err != nil {
		return session.Config{}, "", err
	}

	if meta.IsDefined("max_connect_attempts") {
		cfg.MaxConnectAttempts = raw.MaxConnectAttempts
	}
	if meta.IsDefined("security_mode") {
		cfg.SecurityMode = session.NormalizeSecurityMode(session.SecurityMode(raw.SecurityMode))
	}

	if err := overrideDuration(meta, &cfg.Backoff.InitialDelay, raw.Backoff.InitialDelay, "backoff", "initial_delay"); err != nil {
		return session.Config{}, "", err
	}
	if err := overrideDuration(meta, &cfg.Backoff.MaxDelay, raw.Backoff.MaxDelay, "backoff", "max_delay"); err != nil {
		return session.Config{}, "", err
	}
	if meta.IsDefined("backoff", "multiplier") {
		cfg.Backoff.Multiplier = raw.Backoff.Multiplier
	}
	if meta.IsDefined("backoff", "jitter") {
		cfg.Backoff.Jitter = raw.Backoff.Jitter
	}

	if meta.IsDefined("tls", "enabled") {
		cfg.TLS.Enabled = raw.TLS.Enabled
	}
	if meta.IsDefined("tls", "mutual") {
		cfg.TLS.Mutual = raw.TLS.Mutual
	}
	if meta.IsDefined("tls", "insecure_skip_verify") {
		cfg.TLS.InsecureSkipVerify = raw.TLS.InsecureSkipVerify
	}
	if meta.IsDefined("tls", "server_name") {
		cfg.TLS.ServerName = strings.TrimSpace(raw.TLS.ServerName)
	}
	if meta.IsDefined("tls", "ca_file") {
		cfg.TLS.CAFile = strings.TrimSpace(raw.TLS.CAFile)
	}
	if meta.IsDefined("tls", "cert_file") {
		cfg.TLS.CertFile = strings.TrimSpace(raw.TLS.CertFile)
	}
	if meta.IsDefined("tls", "key_file") {
		cfg.TLS.KeyFile = strings.TrimSpace(raw.TLS.KeyFile)
	}

	if err := cfg.ValidateClientTransport(); err != nil {
		return session.Config{}, "", err
	}
	return cfg, strings.TrimSpace(raw.Addr), nil
}

func overrideDuration(meta toml.MetaData, dst *time.Duration, raw string, key ...string) error {
	if !meta.IsDefined(key...) {
		return nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("parse %s: %w", strings.Join(key, "."), err)
	}
	*dst = d
	return nil
}
