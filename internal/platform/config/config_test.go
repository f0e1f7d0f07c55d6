package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func baseEnv() map[string]string {
	return map[string]string{
		"API_FIREBASE_PROJECT_ID": "hf-dev",
		"API_DATABASE_URL":        "postgres://localhost/storefront?sslmode=disable",
	}
}

func TestLoadWithDefaults(t *testing.T) {
	cfg, err := Load(context.Background(), WithEnvMap(baseEnv()), WithoutSystemEnv(), WithEnvFile(""))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 15*time.Second {
		t.Errorf("unexpected read timeout: %s", cfg.Server.ReadTimeout)
	}
	if cfg.Firestore.ProjectID != "hf-dev" {
		t.Errorf("expected firestore project to default to firebase project, got %s", cfg.Firestore.ProjectID)
	}
	if cfg.Database.MaxOpenConns != defaultDatabaseMaxOpen || cfg.Database.Migrate {
		t.Errorf("unexpected database defaults: %+v", cfg.Database)
	}
	if cfg.Audit.Backend != AuditBackendPostgres || cfg.Audit.StatsWindow != 24*time.Hour {
		t.Errorf("unexpected audit defaults: %+v", cfg.Audit)
	}
	if cfg.PSP.DefaultCurrency != "INR" || cfg.PSP.ReservationTimeout != 5*time.Second {
		t.Errorf("unexpected psp defaults: %+v", cfg.PSP)
	}
	if cfg.Notifications.Backend != NotifyBackendNone {
		t.Errorf("expected notifications disabled, got %s", cfg.Notifications.Backend)
	}
	if cfg.Storage.ObjectPrefix != "designs" {
		t.Errorf("unexpected object prefix %s", cfg.Storage.ObjectPrefix)
	}
	if cfg.Idempotency.Header != defaultIdempotencyHeader {
		t.Errorf("expected default idempotency header, got %s", cfg.Idempotency.Header)
	}
	if cfg.Idempotency.CleanupBatchSize != defaultIdempotencyBatch {
		t.Errorf("unexpected default cleanup batch size: %d", cfg.Idempotency.CleanupBatchSize)
	}
	if cfg.Security.Environment != "local" {
		t.Errorf("expected default security environment local, got %s", cfg.Security.Environment)
	}
}

func TestLoadWithOverridesAndSecrets(t *testing.T) {
	env := map[string]string{
		"API_SERVER_PORT":                "9090",
		"API_SERVER_IDLE_TIMEOUT":        "2m",
		"API_DATABASE_URL":               "secret://db/url",
		"API_DATABASE_MAX_OPEN_CONNS":    "40",
		"API_DATABASE_MIGRATE":           "yes",
		"API_FIREBASE_PROJECT_ID":        "hf-prod",
		"API_FIRESTORE_PROJECT_ID":       "hf-fire",
		"API_AUDIT_BACKEND":              "Firestore",
		"API_AUDIT_IP_HASH_SALT":         "sm://audit/salt",
		"API_STORAGE_DESIGNS_BUCKET":     "designs-prod",
		"API_STORAGE_OBJECT_PREFIX":      "/artwork/",
		"API_PSP_STRIPE_API_KEY":         "secret://stripe/api",
		"API_PSP_SIGNING_SECRET":         "secret://psp/signing",
		"API_PSP_DEFAULT_CURRENCY":       "usd",
		"API_PSP_RESERVATION_TIMEOUT":    "3s",
		"API_NOTIFY_BACKEND":             "amqp",
		"API_NOTIFY_AMQP_URL":            "secret://amqp/url",
		"API_NOTIFY_DISPATCH_TIMEOUT":    "4s",
		"API_SECURITY_ENVIRONMENT":       "PROD",
		"API_IDEMPOTENCY_HEADER":         "X-Idem-Key",
		"API_IDEMPOTENCY_TTL":            "48h",
		"API_IDEMPOTENCY_CLEANUP_BATCH":  "500",
		"API_DATABASE_CONN_MAX_LIFETIME": "not-a-duration",
	}

	secrets := map[string]string{
		"secret://db/url":      "postgres://prod/storefront",
		"secret://audit/salt":  "pepper",
		"secret://stripe/api":  "sk_live",
		"secret://psp/signing": "signing",
		"secret://amqp/url":    "amqp://guest:guest@mq:5672/",
	}
	resolver := SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		if v, ok := secrets[ref]; ok {
			return v, nil
		}
		return "", errors.New("not found")
	})

	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""), WithSecretResolver(resolver))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "9090" || cfg.Server.IdleTimeout != 2*time.Minute {
		t.Errorf("unexpected server config %+v", cfg.Server)
	}
	if cfg.Database.URL != "postgres://prod/storefront" || cfg.Database.MaxOpenConns != 40 || !cfg.Database.Migrate {
		t.Errorf("unexpected database config %+v", cfg.Database)
	}
	if cfg.Database.ConnMaxLifetime != defaultDatabaseLifetime {
		t.Errorf("expected invalid duration to fall back, got %s", cfg.Database.ConnMaxLifetime)
	}
	if cfg.Audit.Backend != AuditBackendFirestore || cfg.Audit.IPHashSalt != "pepper" {
		t.Errorf("unexpected audit config %+v", cfg.Audit)
	}
	if cfg.Storage.ObjectPrefix != "artwork" {
		t.Errorf("expected trimmed prefix, got %q", cfg.Storage.ObjectPrefix)
	}
	if cfg.PSP.StripeAPIKey != "sk_live" || cfg.PSP.SigningSecret != "signing" || cfg.PSP.DefaultCurrency != "USD" {
		t.Errorf("unexpected psp config %+v", cfg.PSP)
	}
	if cfg.Notifications.AMQPURL != "amqp://guest:guest@mq:5672/" || cfg.Notifications.AMQPExchange != defaultNotifyExchange {
		t.Errorf("unexpected notification config %+v", cfg.Notifications)
	}
	if cfg.Notifications.PubSubProjectID != "hf-prod" {
		t.Errorf("expected pubsub project to default to firebase project, got %s", cfg.Notifications.PubSubProjectID)
	}
	if cfg.Security.Environment != "prod" {
		t.Errorf("expected lower-cased environment, got %s", cfg.Security.Environment)
	}
	if cfg.Idempotency.Header != "X-Idem-Key" || cfg.Idempotency.TTL != 48*time.Hour || cfg.Idempotency.CleanupBatchSize != 500 {
		t.Errorf("unexpected idempotency config %+v", cfg.Idempotency)
	}
}

func TestLoadDotEnvFallback(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env.test")
	content := "API_SERVER_PORT=7070\nexport API_FIREBASE_PROJECT_ID=hf-dot\nAPI_DATABASE_URL=\"memory://\"\n"
	if err := os.WriteFile(envPath, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write dotenv file: %v", err)
	}

	cfg, err := Load(context.Background(), WithEnvFile(envPath), WithoutSystemEnv(),
		WithEnvMap(map[string]string{"API_SERVER_PORT": "6060"}))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Server.Port != "6060" {
		t.Errorf("expected env map to win over dotenv, got %s", cfg.Server.Port)
	}
	if cfg.Firebase.ProjectID != "hf-dot" {
		t.Errorf("expected firebase project from dotenv, got %s", cfg.Firebase.ProjectID)
	}
	if !cfg.Database.InMemory() {
		t.Errorf("expected memory database, got %q", cfg.Database.URL)
	}
}

func TestLoadMissingRequired(t *testing.T) {
	_, err := Load(context.Background(), WithEnvMap(map[string]string{}), WithoutSystemEnv(), WithEnvFile(""))
	var validation *ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected ValidationError, got %T (%v)", err, err)
	}
	fields := validation.Fields()
	want := map[string]bool{"Database.URL": false, "Firebase.ProjectID": false}
	for _, field := range fields {
		if _, ok := want[field]; ok {
			want[field] = true
		}
	}
	for field, seen := range want {
		if !seen {
			t.Errorf("expected %s in %v", field, fields)
		}
	}
}

func TestLoadRejectsIncompleteBackends(t *testing.T) {
	env := baseEnv()
	env["API_NOTIFY_BACKEND"] = "pubsub"
	env["API_AUDIT_BACKEND"] = "bigquery"
	env["API_PSP_DEFAULT_CURRENCY"] = "RUPEE"

	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	var validation *ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	got := validation.Fields()
	expected := []string{"Audit.Backend", "PSP.DefaultCurrency", "Notifications.PubSubTopic"}
	if len(got) != len(expected) {
		t.Fatalf("expected fields %v, got %v", expected, got)
	}
	for i := range expected {
		if got[i] != expected[i] {
			t.Fatalf("expected fields %v, got %v", expected, got)
		}
	}
}

func TestLoadSecretResolverError(t *testing.T) {
	env := baseEnv()
	env["API_PSP_STRIPE_API_KEY"] = "secret://missing"

	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	var secretErr *SecretError
	if !errors.As(err, &secretErr) {
		t.Fatalf("expected SecretError, got %T", err)
	}
	if secretErr.Ref != "secret://missing" {
		t.Errorf("unexpected secret ref %s", secretErr.Ref)
	}
	if !errors.Is(err, errSecretResolverNotConfigured) {
		t.Errorf("expected unconfigured resolver cause, got %v", err)
	}
}

func TestLookupUsesSamePrecedence(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	if err := os.WriteFile(envPath, []byte("API_SECRET_PROJECT_ID=dot-project\n"), 0o600); err != nil {
		t.Fatalf("failed writing env file: %v", err)
	}

	t.Setenv("API_SECRET_PROJECT_ID", "os-project")

	got, err := Lookup("API_SECRET_PROJECT_ID", WithEnvFile(envPath))
	if err != nil {
		t.Fatalf("Lookup returned error: %v", err)
	}
	if got != "os-project" {
		t.Fatalf("expected system env to win over dotenv, got %s", got)
	}

	got, err = Lookup("API_SECRET_PROJECT_ID", WithEnvFile(envPath), WithoutSystemEnv())
	if err != nil {
		t.Fatalf("Lookup returned error: %v", err)
	}
	if got != "dot-project" {
		t.Fatalf("expected dotenv value, got %s", got)
	}
}
