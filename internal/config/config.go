package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// App holds the runtime configuration loaded from an optional config file and environment variables.
type App struct {
	Env             string
	HTTPPort        string
	RedisAddr       string
	QueueBackend    string
	QueueKey        string
	RateLimitPerMin int
	LogLevel        string
	LogFile         string
	CORSOrigins     []string

	Session Session

	// Sampler selects the attention source: "random" or "detector".
	Sampler      string
	DetectorURL  string
	DetectorSkip bool

	ReportLocation *time.Location
	// ReportDir receives a CSV export for every finalized session; empty disables archiving.
	ReportDir string

	// Warnings collects fallbacks applied while loading; logged once the logger exists.
	Warnings []string
}

// Session holds the timing of an active tracking session.
type Session struct {
	ClockInterval    time.Duration
	SampleInterval   time.Duration
	AlertWindow      time.Duration
	InitialAttention int
}

// Production reports whether the service runs with production settings.
func (a App) Production() bool {
	return a.Env == "production" || a.Env == "prod"
}

// Load returns application config with sensible defaults. Values come from
// ./engagement.yaml when present and are overridden by environment variables.
func Load() App {
	v := viper.New()
	v.SetConfigName("engagement")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AutomaticEnv()

	v.SetDefault("APP_ENV", "dev")
	v.SetDefault("HTTP_PORT", "8081")
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("QUEUE_BACKEND", "memory")
	v.SetDefault("QUEUE_KEY", "engagement:events")
	v.SetDefault("RATE_LIMIT_PER_MIN", 120)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FILE", "")
	v.SetDefault("CORS_ORIGINS", "*")
	v.SetDefault("CLOCK_INTERVAL", "1s")
	v.SetDefault("SAMPLE_INTERVAL", "3s")
	v.SetDefault("ALERT_WINDOW", "3s")
	v.SetDefault("INITIAL_ATTENTION", 85)
	v.SetDefault("SAMPLER", "random")
	v.SetDefault("DETECTOR_URL", "http://localhost:8000")
	v.SetDefault("DETECTOR_SKIP", true)
	v.SetDefault("REPORT_TIMEZONE", "Local")
	v.SetDefault("REPORT_DIR", "")

	var warnings []string
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			warnings = append(warnings, fmt.Sprintf("config file ignored: %v", err))
		}
	}

	cfg := App{
		Env:             v.GetString("APP_ENV"),
		HTTPPort:        v.GetString("HTTP_PORT"),
		RedisAddr:       v.GetString("REDIS_ADDR"),
		QueueBackend:    strings.ToLower(v.GetString("QUEUE_BACKEND")),
		QueueKey:        v.GetString("QUEUE_KEY"),
		RateLimitPerMin: v.GetInt("RATE_LIMIT_PER_MIN"),
		LogLevel:        v.GetString("LOG_LEVEL"),
		LogFile:         v.GetString("LOG_FILE"),
		CORSOrigins:     splitList(v.GetString("CORS_ORIGINS")),
		Sampler:         strings.ToLower(v.GetString("SAMPLER")),
		DetectorURL:     v.GetString("DETECTOR_URL"),
		DetectorSkip:    v.GetBool("DETECTOR_SKIP"),
		ReportDir:       v.GetString("REPORT_DIR"),
	}

	cfg.Session = Session{
		ClockInterval:    durationKey(v, "CLOCK_INTERVAL", time.Second, &warnings),
		SampleInterval:   durationKey(v, "SAMPLE_INTERVAL", 3*time.Second, &warnings),
		AlertWindow:      durationKey(v, "ALERT_WINDOW", 3*time.Second, &warnings),
		InitialAttention: v.GetInt("INITIAL_ATTENTION"),
	}
	if cfg.Session.InitialAttention < 0 || cfg.Session.InitialAttention > 100 {
		warnings = append(warnings, fmt.Sprintf("invalid INITIAL_ATTENTION %d, using fallback 85", cfg.Session.InitialAttention))
		cfg.Session.InitialAttention = 85
	}
	if cfg.RateLimitPerMin <= 0 {
		warnings = append(warnings, fmt.Sprintf("invalid RATE_LIMIT_PER_MIN %d, using fallback 120", cfg.RateLimitPerMin))
		cfg.RateLimitPerMin = 120
	}

	tz := v.GetString("REPORT_TIMEZONE")
	loc, err := time.LoadLocation(tz)
	if err != nil {
		warnings = append(warnings, fmt.Sprintf("invalid REPORT_TIMEZONE %q: %v, using Local", tz, err))
		loc = time.Local
	}
	cfg.ReportLocation = loc
	cfg.Warnings = warnings
	return cfg
}

func durationKey(v *viper.Viper, key string, fallback time.Duration, warnings *[]string) time.Duration {
	val := v.GetString(key)
	if val == "" {
		return fallback
	}
	d, err := time.ParseDuration(val)
	if err != nil || d <= 0 {
		*warnings = append(*warnings, fmt.Sprintf("invalid duration for %s: %q, using fallback %s", key, val, fallback))
		return fallback
	}
	return d
}

func splitList(val string) []string {
	var out []string
	for _, part := range strings.Split(val, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
