package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultEnvFile             = ".env"
	defaultPort                = "8080"
	defaultReadTimeout         = 15 * time.Second
	defaultWriteTimeout        = 30 * time.Second
	defaultIdleTimeout         = 120 * time.Second
	defaultDatabaseMaxOpen     = 20
	defaultDatabaseMaxIdle     = 5
	defaultDatabaseLifetime    = 30 * time.Minute
	defaultSecurityEnvironment = "local"
	defaultAuditBackend        = AuditBackendPostgres
	defaultAuditStatsWindow    = 24 * time.Hour
	defaultStoragePrefix       = "designs"
	defaultCurrency            = "INR"
	defaultReservationTimeout  = 5 * time.Second
	defaultNotifyBackend       = NotifyBackendNone
	defaultNotifyExchange      = "storefront.notifications"
	defaultNotifyTimeout       = 10 * time.Second
	defaultIdempotencyHeader   = "Idempotency-Key"
	defaultIdempotencyTTL      = 24 * time.Hour
	defaultIdempotencyInterval = time.Hour
	defaultIdempotencyBatch    = 200

	// MemoryDatabaseURL selects the in-process store instead of Postgres.
	MemoryDatabaseURL = "memory://"
)

// Audit log backends.
const (
	AuditBackendPostgres  = "postgres"
	AuditBackendFirestore = "firestore"
)

// Notification dispatch backends.
const (
	NotifyBackendNone   = "none"
	NotifyBackendPubSub = "pubsub"
	NotifyBackendAMQP   = "amqp"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Firebase      FirebaseConfig
	Firestore     FirestoreConfig
	Audit         AuditConfig
	Storage       StorageConfig
	PSP           PSPConfig
	Notifications NotificationConfig
	Idempotency   IdempotencyConfig
	Security      SecurityConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// DatabaseConfig configures the relational store.
type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	Migrate         bool
}

// InMemory reports whether the in-process store was requested.
func (c DatabaseConfig) InMemory() bool {
	return strings.EqualFold(strings.TrimSpace(c.URL), MemoryDatabaseURL)
}

// FirebaseConfig stores Firebase project settings.
type FirebaseConfig struct {
	ProjectID       string
	CredentialsFile string
	// CheckRevoked makes every token verification consult the revocation list.
	CheckRevoked bool
}

// FirestoreConfig stores Firestore parameters used by the audit sink.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// AuditConfig selects the audit log backend.
type AuditConfig struct {
	Backend     string
	StatsWindow time.Duration
	IPHashSalt  string
}

// StorageConfig points at the bucket receiving design uploads.
type StorageConfig struct {
	DesignsBucket string
	ObjectPrefix  string
}

// PSPConfig collects payment provider settings.
type PSPConfig struct {
	StripeAPIKey       string
	SigningSecret      string
	DefaultCurrency    string
	ReservationTimeout time.Duration
}

// NotificationConfig selects where rendered notifications are published.
type NotificationConfig struct {
	Backend         string
	PubSubProjectID string
	PubSubTopic     string
	AMQPURL         string
	AMQPExchange    string
	DispatchTimeout time.Duration
}

// IdempotencyConfig controls idempotency middleware behaviour.
type IdempotencyConfig struct {
	Header           string
	TTL              time.Duration
	CleanupInterval  time.Duration
	CleanupBatchSize int
}

// SecurityConfig groups deployment security settings.
type SecurityConfig struct {
	Environment string
}

// SecretResolver resolves references to external secrets (e.g. Secret Manager URIs).
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts ordinary functions to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

// ResolveSecret resolves the secret using the wrapped function.
func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// SecretError describes failures while resolving a secret reference.
type SecretError struct {
	Ref string
	Err error
}

func (e *SecretError) Error() string {
	return fmt.Sprintf("secret resolution failed for ref %q: %v", e.Ref, e.Err)
}

func (e *SecretError) Unwrap() error { return e.Err }

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile      string
	envMap       map[string]string
	useSystemEnv bool
	secret       SecretResolver
}

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap injects an explicit key/value map that takes precedence over the process environment.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv disables reading from the process environment.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// WithSecretResolver sets the resolver used for secret:// and sm:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) {
		o.secret = resolver
	}
}

type lookupFunc func(string) (string, bool)

func newLookup(options loaderOptions) (lookupFunc, error) {
	dotEnv, err := loadDotEnv(options.envFile)
	if err != nil {
		return nil, err
	}
	return func(key string) (string, bool) {
		if value, ok := options.envMap[key]; ok {
			return value, true
		}
		if options.useSystemEnv {
			if value, ok := os.LookupEnv(key); ok {
				return value, true
			}
		}
		value, ok := dotEnv[key]
		return value, ok
	}, nil
}

// Lookup returns a single value using the same precedence as Load. It lets main read the
// values needed to build the secret resolver before the full configuration is loaded.
func Lookup(key string, opts ...Option) (string, error) {
	options := loaderOptions{envFile: defaultEnvFile, useSystemEnv: true}
	for _, opt := range opts {
		opt(&options)
	}
	lookup, err := newLookup(options)
	if err != nil {
		return "", err
	}
	value, _ := lookup(key)
	return strings.TrimSpace(value), nil
}

// Load assembles the application configuration from defaults, .env overrides, environment
// variables and optional secret manager lookups.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := loaderOptions{envFile: defaultEnvFile, useSystemEnv: true}
	for _, opt := range opts {
		opt(&options)
	}
	lookup, err := newLookup(options)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Server: ServerConfig{
			Port:         stringWithDefault(lookup, "API_SERVER_PORT", defaultPort),
			ReadTimeout:  durationWithDefault(lookup, "API_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout: durationWithDefault(lookup, "API_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:  durationWithDefault(lookup, "API_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
		},
		Database: DatabaseConfig{
			URL:             stringWithDefault(lookup, "API_DATABASE_URL", ""),
			MaxOpenConns:    intWithDefault(lookup, "API_DATABASE_MAX_OPEN_CONNS", defaultDatabaseMaxOpen),
			MaxIdleConns:    intWithDefault(lookup, "API_DATABASE_MAX_IDLE_CONNS", defaultDatabaseMaxIdle),
			ConnMaxLifetime: durationWithDefault(lookup, "API_DATABASE_CONN_MAX_LIFETIME", defaultDatabaseLifetime),
			Migrate:         boolWithDefault(lookup, "API_DATABASE_MIGRATE", false),
		},
		Firebase: FirebaseConfig{
			ProjectID:       stringWithDefault(lookup, "API_FIREBASE_PROJECT_ID", ""),
			CredentialsFile: stringWithDefault(lookup, "API_FIREBASE_CREDENTIALS_FILE", ""),
			CheckRevoked:    boolWithDefault(lookup, "API_FIREBASE_CHECK_REVOKED", false),
		},
		Firestore: FirestoreConfig{
			ProjectID:    stringWithDefault(lookup, "API_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: stringWithDefault(lookup, "API_FIRESTORE_EMULATOR_HOST", ""),
		},
		Audit: AuditConfig{
			Backend:     strings.ToLower(stringWithDefault(lookup, "API_AUDIT_BACKEND", defaultAuditBackend)),
			StatsWindow: durationWithDefault(lookup, "API_AUDIT_STATS_WINDOW", defaultAuditStatsWindow),
			IPHashSalt:  stringWithDefault(lookup, "API_AUDIT_IP_HASH_SALT", ""),
		},
		Storage: StorageConfig{
			DesignsBucket: stringWithDefault(lookup, "API_STORAGE_DESIGNS_BUCKET", ""),
			ObjectPrefix:  strings.Trim(stringWithDefault(lookup, "API_STORAGE_OBJECT_PREFIX", defaultStoragePrefix), "/"),
		},
		PSP: PSPConfig{
			StripeAPIKey:       stringWithDefault(lookup, "API_PSP_STRIPE_API_KEY", ""),
			SigningSecret:      stringWithDefault(lookup, "API_PSP_SIGNING_SECRET", ""),
			DefaultCurrency:    strings.ToUpper(stringWithDefault(lookup, "API_PSP_DEFAULT_CURRENCY", defaultCurrency)),
			ReservationTimeout: durationWithDefault(lookup, "API_PSP_RESERVATION_TIMEOUT", defaultReservationTimeout),
		},
		Notifications: NotificationConfig{
			Backend:         strings.ToLower(stringWithDefault(lookup, "API_NOTIFY_BACKEND", defaultNotifyBackend)),
			PubSubProjectID: stringWithDefault(lookup, "API_NOTIFY_PUBSUB_PROJECT_ID", ""),
			PubSubTopic:     stringWithDefault(lookup, "API_NOTIFY_PUBSUB_TOPIC", ""),
			AMQPURL:         stringWithDefault(lookup, "API_NOTIFY_AMQP_URL", ""),
			AMQPExchange:    stringWithDefault(lookup, "API_NOTIFY_AMQP_EXCHANGE", defaultNotifyExchange),
			DispatchTimeout: durationWithDefault(lookup, "API_NOTIFY_DISPATCH_TIMEOUT", defaultNotifyTimeout),
		},
		Idempotency: IdempotencyConfig{
			Header:           stringWithDefault(lookup, "API_IDEMPOTENCY_HEADER", defaultIdempotencyHeader),
			TTL:              durationWithDefault(lookup, "API_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
			CleanupInterval:  durationWithDefault(lookup, "API_IDEMPOTENCY_CLEANUP_INTERVAL", defaultIdempotencyInterval),
			CleanupBatchSize: intWithDefault(lookup, "API_IDEMPOTENCY_CLEANUP_BATCH", defaultIdempotencyBatch),
		},
		Security: SecurityConfig{
			Environment: strings.ToLower(stringWithDefault(lookup, "API_SECURITY_ENVIRONMENT", defaultSecurityEnvironment)),
		},
	}

	if cfg.Firestore.ProjectID == "" {
		cfg.Firestore.ProjectID = cfg.Firebase.ProjectID
	}
	if cfg.Notifications.PubSubProjectID == "" {
		cfg.Notifications.PubSubProjectID = cfg.Firebase.ProjectID
	}

	secretFields := []*string{
		&cfg.Database.URL,
		&cfg.PSP.StripeAPIKey,
		&cfg.PSP.SigningSecret,
		&cfg.Notifications.AMQPURL,
		&cfg.Audit.IPHashSalt,
	}
	for _, field := range secretFields {
		resolved, err := resolveSecret(ctx, *field, options.secret)
		if err != nil {
			return Config{}, err
		}
		*field = resolved
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func resolveSecret(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	if !isSecretReference(value) {
		return value, nil
	}
	normalized := normalizeSecretReference(value)
	if resolver == nil {
		return "", &SecretError{Ref: normalized, Err: errSecretResolverNotConfigured}
	}
	secret, err := resolver.ResolveSecret(ctx, normalized)
	if err != nil {
		return "", &SecretError{Ref: normalized, Err: err}
	}
	return secret, nil
}

func validateConfig(cfg Config) error {
	var missing []string

	if cfg.Server.Port == "" {
		missing = append(missing, "Server.Port")
	}
	if strings.TrimSpace(cfg.Database.URL) == "" {
		missing = append(missing, "Database.URL")
	}
	if cfg.Database.MaxOpenConns <= 0 {
		missing = append(missing, "Database.MaxOpenConns")
	}
	if cfg.Firebase.ProjectID == "" {
		missing = append(missing, "Firebase.ProjectID")
	}

	switch cfg.Audit.Backend {
	case AuditBackendPostgres:
		// Served by the primary store, including memory://.
	case AuditBackendFirestore:
		if cfg.Firestore.ProjectID == "" {
			missing = append(missing, "Firestore.ProjectID")
		}
	default:
		missing = append(missing, "Audit.Backend")
	}
	if cfg.Audit.StatsWindow <= 0 {
		missing = append(missing, "Audit.StatsWindow")
	}

	if len(cfg.PSP.DefaultCurrency) != 3 {
		missing = append(missing, "PSP.DefaultCurrency")
	}
	if cfg.PSP.ReservationTimeout <= 0 {
		missing = append(missing, "PSP.ReservationTimeout")
	}

	switch cfg.Notifications.Backend {
	case NotifyBackendNone:
	case NotifyBackendPubSub:
		if cfg.Notifications.PubSubTopic == "" {
			missing = append(missing, "Notifications.PubSubTopic")
		}
	case NotifyBackendAMQP:
		if cfg.Notifications.AMQPURL == "" {
			missing = append(missing, "Notifications.AMQPURL")
		}
		if cfg.Notifications.AMQPExchange == "" {
			missing = append(missing, "Notifications.AMQPExchange")
		}
	default:
		missing = append(missing, "Notifications.Backend")
	}
	if cfg.Notifications.DispatchTimeout <= 0 {
		missing = append(missing, "Notifications.DispatchTimeout")
	}

	if strings.TrimSpace(cfg.Idempotency.Header) == "" {
		missing = append(missing, "Idempotency.Header")
	}
	if cfg.Idempotency.TTL <= 0 {
		missing = append(missing, "Idempotency.TTL")
	}
	if cfg.Idempotency.CleanupInterval <= 0 {
		missing = append(missing, "Idempotency.CleanupInterval")
	}
	if cfg.Idempotency.CleanupBatchSize <= 0 {
		missing = append(missing, "Idempotency.CleanupBatchSize")
	}

	if len(missing) > 0 {
		return &ValidationError{fields: missing}
	}
	return nil
}

func isSecretReference(value string) bool {
	trimmed := strings.TrimSpace(value)
	return strings.HasPrefix(trimmed, "secret://") || strings.HasPrefix(trimmed, "sm://")
}

func normalizeSecretReference(value string) string {
	trimmed := strings.TrimSpace(value)
	if strings.HasPrefix(trimmed, "sm://") {
		return "secret://" + strings.TrimPrefix(trimmed, "sm://")
	}
	return trimmed
}

func loadDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}
	values, err := godotenv.Read(absPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", absPath, err)
	}
	return values, nil
}

func stringWithDefault(lookup lookupFunc, key, fallback string) string {
	if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func durationWithDefault(lookup lookupFunc, key string, fallback time.Duration) time.Duration {
	if value, ok := lookup(key); ok && value != "" {
		if d, err := time.ParseDuration(strings.TrimSpace(value)); err == nil {
			return d
		}
	}
	return fallback
}

func intWithDefault(lookup lookupFunc, key string, fallback int) int {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return parsed
		}
	}
	return fallback
}

func boolWithDefault(lookup lookupFunc, key string, fallback bool) bool {
	if value, ok := lookup(key); ok && value != "" {
		switch strings.ToLower(strings.TrimSpace(value)) {
		case "true", "1", "yes", "on":
			return true
		case "false", "0", "no", "off":
			return false
		}
	}
	return fallback
}
