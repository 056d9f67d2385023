// config/config.go
package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	DB           DBConfig           `mapstructure:"db"`
	AI           AIConfig           `mapstructure:"ai"`
	Search       SearchConfig       `mapstructure:"search"`
	Auth         AuthConfig         `mapstructure:"auth"`
	Subscription SubscriptionConfig `mapstructure:"subscription"`
	Stripe       StripeConfig       `mapstructure:"stripe"`
	AWS          AWSConfig          `mapstructure:"aws"`
	Telegram     TelegramConfig     `mapstructure:"telegram"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Chat         ChatConfig         `mapstructure:"chat"`
	Vision       VisionConfig       `mapstructure:"vision"`

	LogLevel        string        `mapstructure:"log_level"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type ServerConfig struct {
	Port         string        `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
	CORSOrigins  []string      `mapstructure:"cors_origins"`
	BodyLimit    string        `mapstructure:"body_limit"`
}

type DBConfig struct {
	// Driver is "postgres" or "sqlite".
	Driver       string        `mapstructure:"driver"`
	URL          string        `mapstructure:"url"`
	Host         string        `mapstructure:"host"`
	Port         string        `mapstructure:"port"`
	User         string        `mapstructure:"user"`
	Password     string        `mapstructure:"password"`
	DBName       string        `mapstructure:"dbname"`
	SSLMode      string        `mapstructure:"sslmode"`
	SQLitePath   string        `mapstructure:"sqlite_path"`
	MaxOpenConns int           `mapstructure:"max_open_conns"`
	MaxIdleConns int           `mapstructure:"max_idle_conns"`
	ConnLifetime time.Duration `mapstructure:"conn_lifetime"`
}

type AIConfig struct {
	APIKey             string        `mapstructure:"api_key"`
	BaseURL            string        `mapstructure:"base_url"`
	Model              string        `mapstructure:"model"`
	ReasoningModel     string        `mapstructure:"reasoning_model"`
	VisionModel        string        `mapstructure:"vision_model"`
	TranscriptionModel string        `mapstructure:"transcription_model"`
	TTSModel           string        `mapstructure:"tts_model"`
	TTSVoice           string        `mapstructure:"tts_voice"`
	Version            string        `mapstructure:"version"`
	Timeout            time.Duration `mapstructure:"timeout"`
	MaxTokens          int           `mapstructure:"max_tokens"`
	Temperature        float32       `mapstructure:"temperature"`
	MaxToolRounds      int           `mapstructure:"max_tool_rounds"`
}

type SearchConfig struct {
	SerperKey string `mapstructure:"serper_key"`
	Endpoint  string `mapstructure:"endpoint"`
	Results   int    `mapstructure:"results"`
}

type AuthConfig struct {
	JWTSecret  string        `mapstructure:"jwt_secret"`
	TokenTTL   time.Duration `mapstructure:"token_ttl"`
	BcryptCost int           `mapstructure:"bcrypt_cost"`
}

type SubscriptionConfig struct {
	Amount      string `mapstructure:"amount"`
	MinTxLength int    `mapstructure:"min_tx_length"`
	MaxTxLength int    `mapstructure:"max_tx_length"`
}

type StripeConfig struct {
	SecretKey  string `mapstructure:"secret_key"`
	WebhookKey string `mapstructure:"webhook_key"`
	PriceID    string `mapstructure:"price_id"`
	SuccessURL string `mapstructure:"success_url"`
	CancelURL  string `mapstructure:"cancel_url"`
}

type AWSConfig struct {
	Region             string `mapstructure:"region"`
	S3Bucket           string `mapstructure:"s3_bucket"`
	PublicBaseURL      string `mapstructure:"public_base_url"`
	RekognitionEnabled bool   `mapstructure:"rekognition_enabled"`
	SESSender          string `mapstructure:"ses_sender"`
}

type TelegramConfig struct {
	Token       string `mapstructure:"token"`
	AdminChatID int64  `mapstructure:"admin_chat_id"`
}

type RedisConfig struct {
	Addr        string `mapstructure:"addr"`
	Password    string `mapstructure:"password"`
	DB          int    `mapstructure:"db"`
	UsageStream string `mapstructure:"usage_stream"`
	StreamLen   int64  `mapstructure:"stream_len"`
}

type ChatConfig struct {
	MaxHistory int `mapstructure:"max_history"`
}

type VisionConfig struct {
	MaxImageBytes int `mapstructure:"max_image_bytes"`
}

// legacyEnv maps config keys to conventional variable names that are honoured
// in addition to the FITPRO_ prefixed form.
var legacyEnv = map[string][]string{
	"ai.api_key":          {"OPENAI_API_KEY", "API_KEY"},
	"auth.jwt_secret":     {"JWT_SECRET"},
	"db.url":              {"DATABASE_URL"},
	"db.host":             {"DB_HOST"},
	"db.port":             {"DB_PORT"},
	"db.user":             {"DB_USER"},
	"db.password":         {"DB_PASSWORD"},
	"db.dbname":           {"DB_NAME"},
	"db.sslmode":          {"DB_SSL_MODE"},
	"server.port":         {"SERVER_PORT", "PORT"},
	"search.serper_key":   {"SERPER_API_KEY"},
	"stripe.secret_key":   {"STRIPE_SECRET_KEY"},
	"stripe.webhook_key":  {"STRIPE_WEBHOOK_KEY"},
	"stripe.price_id":     {"STRIPE_PRICE_ID"},
	"telegram.token":      {"TELEGRAM_TOKEN"},
	"aws.region":          {"AWS_REGION"},
	"aws.s3_bucket":       {"S3_BUCKET"},
	"aws.public_base_url": {"CLOUDFRONT_URL"},
	"aws.ses_sender":      {"SES_EMAIL"},
	"redis.addr":          {"REDIS_ADDR"},
	"redis.password":      {"REDIS_PASSWORD"},
}

// Load loads the configuration. path may point at a config file; when empty the
// usual locations are searched and a missing file is not an error.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("$HOME/.fitpro")
	}

	setDefaults(v)

	v.SetEnvPrefix("FITPRO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, names := range legacyEnv {
		args := append([]string{key, "FITPRO_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))}, names...)
		if err := v.BindEnv(args...); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config: %w", err)
		}
	}

	// Process any ${ENV_VAR} syntax in the config values
	for _, key := range v.AllKeys() {
		value := v.GetString(key)
		if strings.HasPrefix(value, "${") && strings.HasSuffix(value, "}") {
			envVar := strings.TrimPrefix(strings.TrimSuffix(value, "}"), "${")
			if envValue := os.Getenv(envVar); envValue != "" {
				v.Set(key, envValue)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return &cfg, nil
}

// Every key gets a default so AutomaticEnv can override it during Unmarshal.
func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("shutdown_timeout", 10*time.Second)

	v.SetDefault("server.port", "8080")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 90*time.Second)
	v.SetDefault("server.idle_timeout", 120*time.Second)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.body_limit", "12M")

	v.SetDefault("db.driver", "postgres")
	v.SetDefault("db.url", "")
	v.SetDefault("db.host", "localhost")
	v.SetDefault("db.port", "5432")
	v.SetDefault("db.user", "postgres")
	v.SetDefault("db.password", "postgres")
	v.SetDefault("db.dbname", "fitpro")
	v.SetDefault("db.sslmode", "disable")
	v.SetDefault("db.sqlite_path", "fitpro.db")
	v.SetDefault("db.max_open_conns", 20)
	v.SetDefault("db.max_idle_conns", 10)
	v.SetDefault("db.conn_lifetime", 5*time.Minute)

	v.SetDefault("ai.api_key", "")
	v.SetDefault("ai.base_url", "")
	v.SetDefault("ai.model", "gpt-4o-mini")
	v.SetDefault("ai.reasoning_model", "o3-mini")
	v.SetDefault("ai.vision_model", "gpt-4o-mini")
	v.SetDefault("ai.transcription_model", "whisper-1")
	v.SetDefault("ai.tts_model", "tts-1")
	v.SetDefault("ai.tts_voice", "alloy")
	v.SetDefault("ai.version", "SASKA v2.0")
	v.SetDefault("ai.timeout", 45*time.Second)
	v.SetDefault("ai.max_tokens", 2500)
	v.SetDefault("ai.temperature", 0.7)
	v.SetDefault("ai.max_tool_rounds", 2)

	v.SetDefault("search.serper_key", "")
	v.SetDefault("search.endpoint", "https://google.serper.dev/search")
	v.SetDefault("search.results", 5)

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.token_ttl", 7*24*time.Hour)
	v.SetDefault("auth.bcrypt_cost", 10)

	v.SetDefault("subscription.amount", "1 USDT")
	v.SetDefault("subscription.min_tx_length", 8)
	v.SetDefault("subscription.max_tx_length", 128)

	v.SetDefault("stripe.secret_key", "")
	v.SetDefault("stripe.webhook_key", "")
	v.SetDefault("stripe.price_id", "")
	v.SetDefault("stripe.success_url", "")
	v.SetDefault("stripe.cancel_url", "")

	v.SetDefault("aws.region", "")
	v.SetDefault("aws.s3_bucket", "")
	v.SetDefault("aws.public_base_url", "")
	v.SetDefault("aws.rekognition_enabled", false)
	v.SetDefault("aws.ses_sender", "")

	v.SetDefault("telegram.token", "")
	v.SetDefault("telegram.admin_chat_id", 0)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.usage_stream", "fitpro:ai-usage")
	v.SetDefault("redis.stream_len", 10000)

	v.SetDefault("chat.max_history", 20)
	v.SetDefault("vision.max_image_bytes", 8<<20)
}

// Validate reports configuration the server cannot start without.
func (c *Config) Validate() error {
	var missing []string
	if c.AI.APIKey == "" {
		missing = append(missing, "ai.api_key")
	}
	if c.Auth.JWTSecret == "" {
		missing = append(missing, "auth.jwt_secret")
	}
	if c.DB.Driver != "postgres" && c.DB.Driver != "sqlite" {
		missing = append(missing, "db.driver (postgres|sqlite)")
	}
	if len(missing) > 0 {
		return fmt.Errorf("config incomplete: %s", strings.Join(missing, ", "))
	}
	return nil
}

// PostgresDSN builds the connection string used by the pool and by migrations.
func (c DBConfig) PostgresDSN() string {
	if c.URL != "" {
		return c.URL
	}
	host := c.Host
	if c.Port != "" {
		host = net.JoinHostPort(c.Host, c.Port)
	}
	dsn := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.User, c.Password),
		Host:   host,
		Path:   "/" + c.DBName,
	}
	if c.SSLMode != "" {
		dsn.RawQuery = url.Values{"sslmode": {c.SSLMode}}.Encode()
	}
	return dsn.String()
}

// Enabled reports whether checkout sessions can be created.
func (c StripeConfig) Enabled() bool {
	return c.SecretKey != "" && c.PriceID != ""
}
