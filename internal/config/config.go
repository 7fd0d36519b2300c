package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type DispatcherConfig struct {
	Port      string `envconfig:"PORT" default:"8080"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`

	// Store: "postgres" or "sqlite"
	StoreDriver     string        `envconfig:"STORE_DRIVER" default:"postgres"`
	DBDSN           string        `envconfig:"DB_DSN"`
	DBMaxConns      int32         `envconfig:"DB_MAX_CONNS" default:"10"`
	DBMinConns      int32         `envconfig:"DB_MIN_CONNS" default:"1"`
	DBConnLifetime  time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	DBConnIdleTime  time.Duration `envconfig:"DB_MAX_CONN_IDLE_TIME" default:"5m"`
	DBHealthTimeout time.Duration `envconfig:"DB_HEALTH_TIMEOUT" default:"3s"`
	SQLitePath      string        `envconfig:"SQLITE_PATH" default:"billnotif.db"`
	SQLiteBusy      time.Duration `envconfig:"SQLITE_BUSY_TIMEOUT" default:"5s"`

	// Schedule
	Schedule             string        `envconfig:"DISPATCH_SCHEDULE" default:"0 */30 8-18 * * *"`
	Timezone             string        `envconfig:"DISPATCH_TIMEZONE" default:"America/Sao_Paulo"`
	MaxConsecutiveErrors int           `envconfig:"DISPATCH_MAX_CONSECUTIVE_ERRORS" default:"3"`
	RecipientDelay       time.Duration `envconfig:"DISPATCH_RECIPIENT_DELAY" default:"2s"`
	Autostart            bool          `envconfig:"DISPATCH_AUTOSTART" default:"true"`

	// Messaging: "twilio", "telegram" or "" to disable the channel
	MessagingProvider string        `envconfig:"MESSAGING_PROVIDER" default:"twilio"`
	MessagingRPS      float64       `envconfig:"MESSAGING_RPS" default:"1"`
	MessagingBurst    int           `envconfig:"MESSAGING_BURST" default:"1"`
	MessagingTimeout  time.Duration `envconfig:"MESSAGING_TIMEOUT" default:"15s"`
	BreakerTrip       uint32        `envconfig:"CHANNEL_BREAKER_TRIP" default:"5"`
	BreakerCooldown   time.Duration `envconfig:"CHANNEL_BREAKER_COOLDOWN" default:"1m"`

	// Twilio
	TwilioAccountSID          string `envconfig:"TWILIO_ACCOUNT_SID"`
	TwilioAuthToken           string `envconfig:"TWILIO_AUTH_TOKEN"`
	TwilioMessagingServiceSID string `envconfig:"TWILIO_MESSAGING_SERVICE_SID"`
	TwilioFromNumber          string `envconfig:"TWILIO_FROM_NUMBER"`
	TwilioBaseURL             string `envconfig:"TWILIO_BASE_URL" default:"https://api.twilio.com"`
	TwilioWhatsApp            bool   `envconfig:"TWILIO_WHATSAPP" default:"true"`

	// Telegram
	TelegramToken  string `envconfig:"TELEGRAM_BOT_TOKEN"`
	TelegramAPIURL string `envconfig:"TELEGRAM_API_URL"`

	// Email
	SMTPHost     string        `envconfig:"SMTP_HOST"`
	SMTPPort     int           `envconfig:"SMTP_PORT" default:"587"`
	SMTPUsername string        `envconfig:"SMTP_USERNAME"`
	SMTPPassword string        `envconfig:"SMTP_PASSWORD"`
	SMTPFrom     string        `envconfig:"SMTP_FROM"`
	SMTPFromName string        `envconfig:"SMTP_FROM_NAME"`
	SMTPStartTLS bool          `envconfig:"SMTP_STARTTLS" default:"true"`
	SMTPTimeout  time.Duration `envconfig:"SMTP_TIMEOUT" default:"20s"`

	// Composer
	TemplateFile   string `envconfig:"NOTICE_TEMPLATE_FILE"`
	CurrencySymbol string `envconfig:"NOTICE_CURRENCY_SYMBOL"`
	CurrencyFormat string `envconfig:"NOTICE_CURRENCY_FORMAT"`

	// Alerting
	AlertChatAddress   string `envconfig:"ALERT_CHAT_ADDRESS"`
	AWSRegion          string `envconfig:"AWS_REGION" default:"us-east-1"`
	AlertSQSQueueURL   string `envconfig:"ALERT_SQS_QUEUE_URL"`
	LocalstackEndpoint string `envconfig:"LOCALSTACK_ENDPOINT"`
}

// Validate checks cross-field requirements envconfig tags cannot express.
func (c DispatcherConfig) Validate() error {
	switch strings.ToLower(c.StoreDriver) {
	case "postgres":
		if c.DBDSN == "" {
			return fmt.Errorf("DB_DSN is required for STORE_DRIVER=postgres")
		}
	case "sqlite":
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}
	switch strings.ToLower(c.MessagingProvider) {
	case "twilio":
		if c.TwilioAccountSID == "" || c.TwilioAuthToken == "" {
			return fmt.Errorf("TWILIO_ACCOUNT_SID and TWILIO_AUTH_TOKEN are required for MESSAGING_PROVIDER=twilio")
		}
	case "telegram":
		if c.TelegramToken == "" {
			return fmt.Errorf("TELEGRAM_BOT_TOKEN is required for MESSAGING_PROVIDER=telegram")
		}
	case "", "none":
	default:
		return fmt.Errorf("unknown MESSAGING_PROVIDER %q", c.MessagingProvider)
	}
	if c.MaxConsecutiveErrors < 0 {
		return fmt.Errorf("DISPATCH_MAX_CONSECUTIVE_ERRORS must not be negative")
	}
	return nil
}

func (c DispatcherConfig) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Timezone)
}

func LoadDispatcher() DispatcherConfig {
	var cfg DispatcherConfig
	if err := envconfig.Process("", &cfg); err != nil {
		panic(err)
	}
	if err := cfg.Validate(); err != nil {
		panic(err)
	}
	return cfg
}
