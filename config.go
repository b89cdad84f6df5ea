package tenauth

import (
	"errors"
	"time"

	"github.com/sinarlabs/tenauth/jwt"
	"github.com/sinarlabs/tenauth/password"
)

// Config is the single explicit configuration struct for the engine. It
// is constructed once at process start and injected; there is no ambient
// global lookup anywhere in the package.
type Config struct {
	JWT       jwt.Config
	Password  PasswordConfig
	OTP       OTPConfig
	Provision ProvisionConfig
	Audit     AuditConfig
	Metrics   MetricsConfig
}

// PasswordConfig selects the bcrypt cost.
type PasswordConfig struct {
	Cost int
}

// OTPConfig controls the forgot-password flow.
type OTPConfig struct {
	Digits        int
	TTL           time.Duration
	ResetTokenTTL time.Duration
}

// ProvisionConfig holds the defaults applied to every new tenant.
type ProvisionConfig struct {
	AdminRoleName  string
	AdminRoleColor string
	StorageQuotaMB int64
}

// AuditConfig controls the audit dispatcher.
type AuditConfig struct {
	Enabled bool
	Buffer  int
}

// MetricsConfig controls the in-process counters.
type MetricsConfig struct {
	Enabled bool
}

// DefaultConfig returns production defaults with the given HS256 secret.
func DefaultConfig(secret []byte) Config {
	return Config{
		JWT: jwt.Config{
			SigningMethod: jwt.MethodHS256,
			PrivateKey:    secret,
			Issuer:        "tenauth",
			AccessTTL:     15 * time.Minute,
			RefreshTTL:    7 * 24 * time.Hour,
		},
		Password: PasswordConfig{Cost: password.DefaultCost},
		OTP: OTPConfig{
			Digits:        6,
			TTL:           300 * time.Second,
			ResetTokenTTL: 15 * time.Minute,
		},
		Provision: ProvisionConfig{
			AdminRoleName:  "Admin",
			AdminRoleColor: "#4DABF5",
			StorageQuotaMB: 10240,
		},
		Audit:   AuditConfig{Enabled: true, Buffer: 256},
		Metrics: MetricsConfig{Enabled: true},
	}
}

func (c *Config) validate() error {
	if c.OTP.Digits < 6 || c.OTP.Digits > 10 {
		return errors.New("otp digits must be between 6 and 10")
	}
	if c.OTP.TTL <= 0 || c.OTP.ResetTokenTTL <= 0 {
		return errors.New("otp TTLs must be positive")
	}
	if c.Provision.AdminRoleName == "" {
		return errors.New("admin role name cannot be empty")
	}
	if c.Provision.StorageQuotaMB < 0 {
		return errors.New("storage quota cannot be negative")
	}
	if c.Audit.Enabled && c.Audit.Buffer <= 0 {
		return errors.New("audit buffer must be positive when enabled")
	}
	return nil
}
