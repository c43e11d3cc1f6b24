// Package config loads runtime configuration for the server and the recovery tool
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/mihaimyh/threadifier/pkg/subscription"
)

// Config captures runtime configuration values used by both binaries.
type Config struct {
	// ServerAddress is the host:port pair the HTTP server listens on. Defaults to ":8080".
	ServerAddress string

	// StripeSecretKey authenticates Stripe API calls.
	StripeSecretKey string

	// StripeWebhookSecret verifies the Stripe-Signature header of webhook deliveries.
	StripeWebhookSecret string

	// FirebaseProjectID is the project of the user document store and of ID tokens.
	FirebaseProjectID string

	// GoogleCredentialsFile is a service account JSON file. Empty uses application default credentials.
	GoogleCredentialsFile string

	// UsersCollection is the Firestore collection holding user documents. Defaults to "users".
	UsersCollection string

	// Prices lists the Stripe price ids per plan and interval.
	Prices subscription.PriceConfig

	// Credit grants on activation. Zero keeps the built-in defaults.
	CreditsProfessional int
	CreditsTeam         int

	// RedisURL enables the Redis processed-event ledger when set.
	RedisURL string

	// DatabaseURL enables the PostgreSQL transition audit log when set.
	DatabaseURL string

	// AppBaseURL is the frontend origin used for checkout and portal return URLs.
	AppBaseURL string

	// LogLevel is a zerolog level name. Defaults to "info".
	LogLevel string

	// LogFormat is "json" (default) or "console".
	LogFormat string
}

const (
	defaultPort            = "8080"
	defaultUsersCollection = "users"
	defaultLogLevel        = "info"
	defaultLogFormat       = "json"

	envServerAddress       = "THREADIFIER_ADDR"
	envPort                = "PORT"
	envStripeSecretKey     = "STRIPE_SECRET_KEY"
	envStripeWebhookSecret = "STRIPE_WEBHOOK_SECRET"
	envFirebaseProjectID   = "FIREBASE_PROJECT_ID"
	envGoogleCredentials   = "GOOGLE_APPLICATION_CREDENTIALS"
	envUsersCollection     = "USERS_COLLECTION"
	envPriceProMonthly     = "STRIPE_PRICE_PROFESSIONAL_MONTHLY"
	envPriceProYearly      = "STRIPE_PRICE_PROFESSIONAL_YEARLY"
	envPriceTeamMonthly    = "STRIPE_PRICE_TEAM_MONTHLY"
	envPriceTeamYearly     = "STRIPE_PRICE_TEAM_YEARLY"
	envCreditsProfessional = "CREDITS_PROFESSIONAL"
	envCreditsTeam         = "CREDITS_TEAM"
	envRedisURL            = "REDIS_URL"
	envDatabaseURL         = "DATABASE_URL"
	envAppBaseURL          = "APP_BASE_URL"
	envLogLevel            = "LOG_LEVEL"
	envLogFormat           = "LOG_FORMAT"
)

// LoadDotEnv loads .env style files into the environment without overriding
// variables that are already set. Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, path := range paths {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("failed to load %s: %w", path, err)
		}
	}
	return nil
}

// Load reads configuration from environment variables and applies defaults.
// Malformed values return an error; required values are checked by
// ValidateServer and ValidateRecovery.
func Load() (Config, error) {
	cfg := Config{
		ServerAddress:         firstNonEmpty(os.Getenv(envServerAddress), ":"+firstNonEmpty(os.Getenv(envPort), defaultPort)),
		StripeSecretKey:       strings.TrimSpace(os.Getenv(envStripeSecretKey)),
		StripeWebhookSecret:   strings.TrimSpace(os.Getenv(envStripeWebhookSecret)),
		FirebaseProjectID:     strings.TrimSpace(os.Getenv(envFirebaseProjectID)),
		GoogleCredentialsFile: os.Getenv(envGoogleCredentials),
		UsersCollection:       firstNonEmpty(os.Getenv(envUsersCollection), defaultUsersCollection),
		Prices: subscription.PriceConfig{
			ProfessionalMonthly: splitList(os.Getenv(envPriceProMonthly)),
			ProfessionalYearly:  splitList(os.Getenv(envPriceProYearly)),
			TeamMonthly:         splitList(os.Getenv(envPriceTeamMonthly)),
			TeamYearly:          splitList(os.Getenv(envPriceTeamYearly)),
		},
		RedisURL:    os.Getenv(envRedisURL),
		DatabaseURL: os.Getenv(envDatabaseURL),
		AppBaseURL:  strings.TrimRight(os.Getenv(envAppBaseURL), "/"),
		LogLevel:    strings.ToLower(firstNonEmpty(os.Getenv(envLogLevel), defaultLogLevel)),
		LogFormat:   strings.ToLower(firstNonEmpty(os.Getenv(envLogFormat), defaultLogFormat)),
	}

	var err error
	if cfg.CreditsProfessional, err = intEnv(envCreditsProfessional); err != nil {
		return Config{}, err
	}
	if cfg.CreditsTeam, err = intEnv(envCreditsTeam); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// ValidateServer reports every value the HTTP server cannot start without
func (c Config) ValidateServer() error {
	return missing(map[string]string{
		envStripeSecretKey:     c.StripeSecretKey,
		envStripeWebhookSecret: c.StripeWebhookSecret,
		envFirebaseProjectID:   c.FirebaseProjectID,
	}, c.hasPrices())
}

// ValidateRecovery reports every value the recovery tool cannot start without
func (c Config) ValidateRecovery() error {
	return missing(map[string]string{
		envStripeSecretKey:   c.StripeSecretKey,
		envFirebaseProjectID: c.FirebaseProjectID,
	}, c.hasPrices())
}

// PriceTable builds the price lookup with the configured credit grants
func (c Config) PriceTable() (*subscription.PriceTable, error) {
	grants := map[subscription.Plan]int{}
	if c.CreditsProfessional > 0 {
		grants[subscription.PlanProfessional] = c.CreditsProfessional
	}
	if c.CreditsTeam > 0 {
		grants[subscription.PlanTeam] = c.CreditsTeam
	}
	if len(grants) == 0 {
		grants = nil
	}
	return subscription.NewPriceTable(c.Prices, grants)
}

func (c Config) hasPrices() bool {
	p := c.Prices
	return len(p.ProfessionalMonthly)+len(p.ProfessionalYearly)+len(p.TeamMonthly)+len(p.TeamYearly) > 0
}

func missing(required map[string]string, hasPrices bool) error {
	var errs []error
	for _, name := range []string{envStripeSecretKey, envStripeWebhookSecret, envFirebaseProjectID} {
		value, ok := required[name]
		if ok && value == "" {
			errs = append(errs, fmt.Errorf("%s is required", name))
		}
	}
	if !hasPrices {
		errs = append(errs, fmt.Errorf("at least one STRIPE_PRICE_* value is required"))
	}
	return errors.Join(errs...)
}

func intEnv(name string) (int, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid %s: %q", name, raw)
	}
	return n, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
