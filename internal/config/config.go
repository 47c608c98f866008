// Package config loads the process configuration from environment variables
// once at startup. The resulting value is immutable and passed by handle to
// every component; nothing re-reads the environment per call.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultSessionExpire = 172800 * time.Second  // 48h
	defaultMaxBorrowTime = 1209600 * time.Second // 14d
	defaultMaxBorrows    = 6
)

// Config is the frozen process configuration.
type Config struct {
	// DSN is the PostgreSQL connection string.
	DSN string
	// TablePrefix namespaces every table and view name.
	TablePrefix string
	// CookiePrefix namespaces the session cookies set by the routing layer.
	CookiePrefix string
	// HashSecret keys the HMAC used for password and session-secret hashing.
	HashSecret string
	// CSRFCheck enables the double-submit session check on bodied requests.
	CSRFCheck bool
	// SessionExpire is the sliding session lifetime.
	SessionExpire time.Duration
	// MaxBorrowTime is the borrow duration granted on borrow and renew.
	MaxBorrowTime time.Duration
	// MaxBorrowCount caps concurrent borrows per reader.
	MaxBorrowCount int
	// AllowPasswordReset enables the self-service password reset flow.
	AllowPasswordReset bool
	// LibrarySecretHash, when set, restricts self-service borrowing to
	// clients that present the library terminal secret.
	LibrarySecretHash string
}

type env map[string]string

func (e env) required(key string) (string, error) {
	v, ok := e[key]
	if !ok || v == "" {
		return "", fmt.Errorf("config: mandatory environment variable %s is missing", key)
	}
	return v, nil
}

func (e env) optional(key, fallback string) string {
	if v, ok := e[key]; ok && v != "" {
		return v
	}
	return fallback
}

// Load snapshots the environment and builds a validated Config.
func Load() (*Config, error) {
	snapshot := env{}
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			snapshot[k] = v
		}
	}
	return fromEnv(snapshot)
}

func fromEnv(e env) (*Config, error) {
	dsn, err := e.required("DB_DSN")
	if err != nil {
		return nil, err
	}
	prefix, err := e.required("DB_TABLE_PREFIX")
	if err != nil {
		return nil, err
	}
	cookie, err := e.required("COOKIE_PREFIX")
	if err != nil {
		return nil, err
	}
	secret, err := e.required("HASH_SECRET")
	if err != nil {
		return nil, err
	}

	sessionExpire, err := secondsValue(e, "SESSION_EXPIRE_TIME", defaultSessionExpire)
	if err != nil {
		return nil, err
	}
	maxBorrowTime, err := secondsValue(e, "MAX_BORROW_TIME", defaultMaxBorrowTime)
	if err != nil {
		return nil, err
	}
	maxBorrows, err := intValue(e, "MAX_BORROW_COUNT", defaultMaxBorrows)
	if err != nil {
		return nil, err
	}

	return &Config{
		DSN:                dsn,
		TablePrefix:        prefix,
		CookiePrefix:       cookie,
		HashSecret:         secret,
		CSRFCheck:          boolValue(e.optional("CSRF_CHECK", "true")),
		SessionExpire:      sessionExpire,
		MaxBorrowTime:      maxBorrowTime,
		MaxBorrowCount:     maxBorrows,
		AllowPasswordReset: boolValue(e.optional("ALLOW_PASSWORD_RESET", "false")),
		LibrarySecretHash:  e.optional("LIBRARY_SECRET_HASH", ""),
	}, nil
}

func boolValue(s string) bool {
	if s == "" {
		return false
	}
	c := strings.ToLower(s[:1])
	return c == "t" || c == "y" || c == "1"
}

func intValue(e env, key string, fallback int) (int, error) {
	raw := e.optional(key, "")
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return v, nil
}

func secondsValue(e env, key string, fallback time.Duration) (time.Duration, error) {
	raw := e.optional(key, "")
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	if v <= 0 {
		return 0, fmt.Errorf("config: %s must be positive", key)
	}
	return time.Duration(v) * time.Second, nil
}
