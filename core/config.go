package core

import (
	"fmt"
	"strings"
	"time"
)

type VerificationConfig struct {
	// Topics is the allow-list of topic ARNs accepted by the signature
	// verifier. An empty list rejects every notification.
	Topics                  []string `koanf:"topics" mapstructure:"topics"`
	FreshnessWindowMinutes  int      `koanf:"freshness_window_minutes" mapstructure:"freshness_window_minutes"`
	CertFetchTimeoutSeconds int      `koanf:"cert_fetch_timeout_seconds" mapstructure:"cert_fetch_timeout_seconds"`
}

type DeliveryConfig struct {
	// SoftBounceThreshold is the transient-bounce count above which a
	// recipient is unverified with UnverifyReasonSoftBounce.
	SoftBounceThreshold int `koanf:"soft_bounce_threshold" mapstructure:"soft_bounce_threshold"`
}

type RetentionConfig struct {
	ActiveWindowDays int `koanf:"active_window_days" mapstructure:"active_window_days"`
	MaxWindowDays    int `koanf:"max_window_days" mapstructure:"max_window_days"`
}

type Config struct {
	ServiceName  string             `koanf:"service_name" mapstructure:"service_name"`
	Verification VerificationConfig `koanf:"verification" mapstructure:"verification"`
	Delivery     DeliveryConfig     `koanf:"delivery" mapstructure:"delivery"`
	Retention    RetentionConfig    `koanf:"retention" mapstructure:"retention"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName: "mailstatus",
		Verification: VerificationConfig{
			FreshnessWindowMinutes:  60,
			CertFetchTimeoutSeconds: 10,
		},
		Delivery: DeliveryConfig{
			SoftBounceThreshold: 5,
		},
		Retention: RetentionConfig{
			ActiveWindowDays: 14,
			MaxWindowDays:    90,
		},
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	if c.Verification.FreshnessWindowMinutes <= 0 {
		return fmt.Errorf("core: verification.freshness_window_minutes must be positive")
	}
	if c.Verification.CertFetchTimeoutSeconds <= 0 {
		return fmt.Errorf("core: verification.cert_fetch_timeout_seconds must be positive")
	}
	if c.Delivery.SoftBounceThreshold < 1 {
		return fmt.Errorf("core: delivery.soft_bounce_threshold must be at least 1")
	}
	if c.Retention.ActiveWindowDays <= 0 || c.Retention.MaxWindowDays <= 0 {
		return fmt.Errorf("core: retention windows must be positive")
	}
	if c.Retention.ActiveWindowDays > c.Retention.MaxWindowDays {
		return fmt.Errorf("core: retention.active_window_days exceeds retention.max_window_days")
	}
	return nil
}

func (c Config) FreshnessWindow() time.Duration {
	return time.Duration(c.Verification.FreshnessWindowMinutes) * time.Minute
}

func (c Config) CertFetchTimeout() time.Duration {
	return time.Duration(c.Verification.CertFetchTimeoutSeconds) * time.Second
}

func (c Config) ActiveRetentionWindow() time.Duration {
	return time.Duration(c.Retention.ActiveWindowDays) * 24 * time.Hour
}

func (c Config) MaxRetentionWindow() time.Duration {
	return time.Duration(c.Retention.MaxWindowDays) * 24 * time.Hour
}
