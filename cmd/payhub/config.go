package main

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/liderhq/payhub/internal/logger"
)

const (
	defaultListenAddr   = "localhost:8000"
	defaultLoggingLevel = logger.LevelInfo
	defaultEnvironment  = logger.EnvProduction
	defaultStripeRegion = "us"
	defaultPaypalURL    = "https://api-m.sandbox.paypal.com"
)

type Config struct {
	// Default logging level
	LogLevel string

	// Address on which the payhub service will be run
	ListenAddr string

	// Database to connect to
	DatabaseDSN string

	// Secret key validating access tokens issued by the auth gateway
	SecretKey string

	// Shared token for service-to-service endpoints
	InternalToken string

	// Environment
	Environment string

	// Stripe REST credentials. Empty API key disables the stripe gateway.
	StripeAPIKey  string
	StripeBaseURL string
	StripeRegion  string

	// Paypal REST credentials. Empty client id disables the paypal gateway.
	PaypalClientID     string
	PaypalClientSecret string
	PaypalBaseURL      string

	// Redis address for activation codes. Empty falls back to in-memory codes.
	RedisAddr string

	// Kafka brokers for resolved-transaction events, comma separated.
	// Empty drops the events.
	KafkaBrokers string
}

func NewConfig() *Config {
	return &Config{
		LogLevel:      defaultLoggingLevel,
		ListenAddr:    defaultListenAddr,
		Environment:   defaultEnvironment,
		StripeRegion:  defaultStripeRegion,
		PaypalBaseURL: defaultPaypalURL,
	}
}

// Load variable from '.env' file (should be located at working directory)
func (c *Config) LoadDotEnv(getwd func() (string, error)) error {
	wd, err := getwd()
	if err != nil {
		return err
	}

	envMap, err := godotenv.Read(filepath.Join(wd, ".env"))

	switch {
	case err == nil:
		c.LoadEnv(func(key string) string {
			return envMap[key]
		})
		return nil
	case errors.Is(err, os.ErrNotExist):
		return nil
	default:
		return err
	}
}

func (c *Config) LoadEnv(getenv func(string) string) {
	// Set option to value if it not empty
	setString := func(o *string) func(value string) {
		return func(value string) {
			if value != "" {
				*o = value
			}
		}
	}

	envMap := map[string]func(string){
		"RUN_ADDRESS":          setString(&c.ListenAddr),
		"DATABASE_URI":         setString(&c.DatabaseDSN),
		"SECRET_KEY":           setString(&c.SecretKey),
		"INTERNAL_TOKEN":       setString(&c.InternalToken),
		"LOG_LEVEL":            setString(&c.LogLevel),
		"ENVIRONMENT":          setString(&c.Environment),
		"STRIPE_API_KEY":       setString(&c.StripeAPIKey),
		"STRIPE_BASE_URL":      setString(&c.StripeBaseURL),
		"STRIPE_REGION":        setString(&c.StripeRegion),
		"PAYPAL_CLIENT_ID":     setString(&c.PaypalClientID),
		"PAYPAL_CLIENT_SECRET": setString(&c.PaypalClientSecret),
		"PAYPAL_BASE_URL":      setString(&c.PaypalBaseURL),
		"REDIS_ADDR":           setString(&c.RedisAddr),
		"KAFKA_BROKERS":        setString(&c.KafkaBrokers),
	}

	for key, parseFn := range envMap {
		parseFn(getenv(key))
	}
}

func (c *Config) ParseFlags(args []string) error {
	fs := pflag.NewFlagSet("payhub", pflag.ContinueOnError)

	fs.StringVarP(&c.ListenAddr, "address", "a", c.ListenAddr, "Server listen address")
	fs.StringVarP(&c.DatabaseDSN, "database", "d", c.DatabaseDSN, "Database connection string")
	fs.StringVarP(&c.SecretKey, "secret-key", "s", c.SecretKey, "Secret key")
	fs.StringVarP(&c.LogLevel, "log-level", "l", c.LogLevel, "Logging level (debug, info, warn, error)")
	fs.StringVarP(&c.Environment, "environment", "e", c.Environment, "Environment (dev, prod)")
	fs.StringVar(&c.InternalToken, "internal-token", c.InternalToken, "Token for service-to-service endpoints")
	fs.StringVar(&c.RedisAddr, "redis", c.RedisAddr, "Redis address for activation codes")
	fs.StringVar(&c.KafkaBrokers, "kafka-brokers", c.KafkaBrokers, "Kafka brokers, comma separated")

	return fs.Parse(args)
}

// Brokers splits the comma separated broker list, empty when not configured
func (c *Config) Brokers() []string {
	if c.KafkaBrokers == "" {
		return nil
	}

	var brokers []string
	for _, b := range strings.Split(c.KafkaBrokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}
