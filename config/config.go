package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

type Config struct {
	ServerPort int
	Database   DatabaseConfig
	SSO        SSOConfig
	MQ         MQConfig
}

type DatabaseConfig struct {
	// Path is the SQLite database file location.
	Path string
}

type SSOConfig struct {
	// ValidateURL is the provider endpoint that exchanges a one-time
	// SSO token for a verified identity.
	ValidateURL string

	// RedirectURL is the provider page users are sent to for login.
	RedirectURL string

	// CallbackURL is this service's callback the provider redirects back to.
	CallbackURL string
}

type MQConfig struct {
	// Backend selects the auth event broker: "rabbitmq", "pubsub",
	// or empty to disable event publishing.
	Backend  string
	RabbitMQ RabbitMQConfig
	PubSub   PubSubConfig
}

type RabbitMQConfig struct {
	URL             string
	QueueDurable    bool
	QueueAutoDelete bool
	PrefetchCount   int
}

type PubSubConfig struct {
	ProjectID          string
	CredentialsFile    string
	SubscriptionSuffix string
}

func LoadConfig() Config {
	if os.Getenv("ENV") == "dev" {
		godotenv.Load()
	}

	return Config{
		ServerPort: getEnvInt("SERVER_PORT", 8080),
		Database: DatabaseConfig{
			Path: getEnv("DB_PATH", "data/sci.db"),
		},
		SSO: SSOConfig{
			ValidateURL: getEnv("SSO_VALIDATE_URL", "https://auth.comparegpt.io/sso/validate"),
			RedirectURL: getEnv("SSO_REDIRECT_URL", "https://comparegpt.io/sso-redirect"),
			CallbackURL: getEnv("SSO_CALLBACK_URL", "https://sci.platformai.org/sso/callback"),
		},
		MQ: MQConfig{
			Backend: getEnv("MQ_BACKEND", ""),
			RabbitMQ: RabbitMQConfig{
				URL:             getEnv("RABBITMQ_URL", ""),
				QueueDurable:    getEnvBool("RABBITMQ_QUEUE_DURABLE", true),
				QueueAutoDelete: getEnvBool("RABBITMQ_QUEUE_AUTO_DELETE", false),
				PrefetchCount:   getEnvInt("RABBITMQ_PREFETCH_COUNT", 0),
			},
			PubSub: PubSubConfig{
				ProjectID:          getEnv("PUBSUB_PROJECT_ID", ""),
				CredentialsFile:    getEnv("PUBSUB_CREDENTIALS_FILE", ""),
				SubscriptionSuffix: getEnv("PUBSUB_SUBSCRIPTION_SUFFIX", "-sub"),
			},
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if valueStr, exists := os.LookupEnv(key); exists {
		var value int
		fmt.Sscanf(valueStr, "%d", &value)
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if valueStr, exists := os.LookupEnv(key); exists {
		return valueStr == "true" || valueStr == "1"
	}
	return defaultValue
}
