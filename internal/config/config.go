package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Config struct {
	DBPath     string
	RawMailDir string
	OutputDir  string

	LogLevel  string
	LogFormat string

	// Extraction heuristics. Empirically tuned; kept overridable for calibration.
	ContextWindow     int
	LabelScanDistance int
	PhoneWindow       int

	AddressWordOverlap float64

	LearnMinValueLength  int
	LearnMaxCollisions   int
	LearnScoreThreshold  int
	LearnDigitSlack      int
	LearnMinDigits       int
	LearnWeightTolerance float64

	ClassifierURL          string
	ClassifierToken        string
	ClassifierRateLimitRPS int
	ClassifierTimeoutMs    int

	ProcessConcurrency    int
	TenderDetectThreshold float64

	GmailClientID     string
	GmailClientSecret string
	GmailRedirectURI  string
	GmailRefreshToken string

	IMAPHost     string
	IMAPPort     int
	IMAPSecure   bool
	IMAPUser     string
	IMAPPassword string
	IMAPMarkSeen bool

	MailListenerProvider     string
	MailListenerLabel        string
	MailListenerQuery        string
	MailListenerIntervalSec  int
	MailListenerFetchMax     int
	MailListenerProcessBatch int
	MailListenerAutoExport   bool
}

// Defaults returns the built-in configuration without consulting the
// environment.
func Defaults() Config {
	return Config{
		DBPath:     filepath.Join("data", "app.db"),
		RawMailDir: filepath.Join("data", "raw"),
		OutputDir:  "out",

		LogLevel:  "info",
		LogFormat: "json",

		ContextWindow:     40,
		LabelScanDistance: 80,
		PhoneWindow:       15,

		AddressWordOverlap: 0.70,

		LearnMinValueLength:  8,
		LearnMaxCollisions:   3,
		LearnScoreThreshold:  3,
		LearnDigitSlack:      0,
		LearnMinDigits:       4,
		LearnWeightTolerance: 0.01,

		ClassifierRateLimitRPS: 2,
		ClassifierTimeoutMs:    60000,

		ProcessConcurrency:    4,
		TenderDetectThreshold: 0.45,

		GmailRedirectURI: "https://developers.google.com/oauthplayground",

		IMAPPort:   993,
		IMAPSecure: true,

		MailListenerProvider:     "gmail",
		MailListenerLabel:        "INBOX",
		MailListenerIntervalSec:  30,
		MailListenerFetchMax:     20,
		MailListenerProcessBatch: 20,
		MailListenerAutoExport:   true,
	}
}

func Load() (Config, error) {
	_ = godotenv.Load()

	cwd, err := os.Getwd()
	if err != nil {
		return Config{}, eris.Wrap(err, "config: working directory")
	}

	d := Defaults()
	cfg := Config{
		DBPath:     getEnv("DB_PATH", filepath.Join(cwd, d.DBPath)),
		RawMailDir: getEnv("MAIL_RAW_DIR", filepath.Join(cwd, d.RawMailDir)),
		OutputDir:  getEnv("OUTPUT_DIR", filepath.Join(cwd, d.OutputDir)),

		LogLevel:  getEnv("LOG_LEVEL", d.LogLevel),
		LogFormat: getEnv("LOG_FORMAT", d.LogFormat),

		ContextWindow:     getEnvInt("EXTRACT_CONTEXT_WINDOW", d.ContextWindow),
		LabelScanDistance: getEnvInt("EXTRACT_LABEL_SCAN_DISTANCE", d.LabelScanDistance),
		PhoneWindow:       getEnvInt("EXTRACT_PHONE_WINDOW", d.PhoneWindow),

		AddressWordOverlap: getEnvFloat("VERIFY_ADDRESS_WORD_OVERLAP", d.AddressWordOverlap),

		LearnMinValueLength:  getEnvInt("LEARN_MIN_VALUE_LENGTH", d.LearnMinValueLength),
		LearnMaxCollisions:   getEnvInt("LEARN_MAX_COLLISIONS", d.LearnMaxCollisions),
		LearnScoreThreshold:  getEnvInt("LEARN_SCORE_THRESHOLD", d.LearnScoreThreshold),
		LearnDigitSlack:      getEnvInt("LEARN_DIGIT_SLACK", d.LearnDigitSlack),
		LearnMinDigits:       getEnvInt("LEARN_MIN_DIGITS", d.LearnMinDigits),
		LearnWeightTolerance: getEnvFloat("LEARN_WEIGHT_TOLERANCE", d.LearnWeightTolerance),

		ClassifierURL:          getEnv("CLASSIFIER_URL", ""),
		ClassifierToken:        getEnv("CLASSIFIER_TOKEN", ""),
		ClassifierRateLimitRPS: getEnvInt("CLASSIFIER_RATE_LIMIT_RPS", d.ClassifierRateLimitRPS),
		ClassifierTimeoutMs:    getEnvInt("CLASSIFIER_TIMEOUT_MS", d.ClassifierTimeoutMs),

		ProcessConcurrency:    getEnvInt("PROCESS_CONCURRENCY", d.ProcessConcurrency),
		TenderDetectThreshold: getEnvFloat("TENDER_DETECT_THRESHOLD", d.TenderDetectThreshold),

		GmailClientID:     getEnv("GMAIL_CLIENT_ID", ""),
		GmailClientSecret: getEnv("GMAIL_CLIENT_SECRET", ""),
		GmailRedirectURI:  getEnv("GMAIL_REDIRECT_URI", d.GmailRedirectURI),
		GmailRefreshToken: getEnv("GMAIL_REFRESH_TOKEN", ""),

		IMAPHost:     getEnv("IMAP_HOST", ""),
		IMAPPort:     getEnvInt("IMAP_PORT", d.IMAPPort),
		IMAPSecure:   getEnvBool("IMAP_SECURE", d.IMAPSecure),
		IMAPUser:     getEnv("IMAP_USER", ""),
		IMAPPassword: getEnv("IMAP_PASSWORD", ""),
		IMAPMarkSeen: getEnvBool("IMAP_MARK_SEEN", false),

		MailListenerProvider:     getEnv("MAIL_LISTENER_PROVIDER", d.MailListenerProvider),
		MailListenerLabel:        getEnv("MAIL_LISTENER_LABEL", d.MailListenerLabel),
		MailListenerQuery:        getEnv("MAIL_LISTENER_QUERY", ""),
		MailListenerIntervalSec:  getEnvInt("MAIL_LISTENER_INTERVAL_SEC", d.MailListenerIntervalSec),
		MailListenerFetchMax:     getEnvInt("MAIL_LISTENER_FETCH_MAX", d.MailListenerFetchMax),
		MailListenerProcessBatch: getEnvInt("MAIL_LISTENER_PROCESS_BATCH", d.MailListenerProcessBatch),
		MailListenerAutoExport:   getEnvBool("MAIL_LISTENER_AUTO_EXPORT", d.MailListenerAutoExport),
	}

	return cfg, nil
}

func (c Config) Require(name, value string) error {
	if strings.TrimSpace(value) == "" {
		return eris.Errorf("missing required env var: %s", name)
	}
	return nil
}

// NewLogger builds a zap logger from LOG_LEVEL and LOG_FORMAT.
func NewLogger(c Config) (*zap.Logger, error) {
	var zapCfg zap.Config
	if c.LogFormat == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return nil, eris.Wrap(err, "config: build logger")
	}
	return logger, nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value := getEnv(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvFloat(key string, fallback float64) float64 {
	value := getEnv(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	value := strings.ToLower(strings.TrimSpace(getEnv(key, "")))
	if value == "" {
		return fallback
	}
	if value == "1" || value == "true" || value == "yes" || value == "on" {
		return true
	}
	if value == "0" || value == "false" || value == "no" || value == "off" {
		return false
	}
	return fallback
}
