// Package config provides configuration loading, validation, and defaults
// for the CRM bot. Values come from config.yaml and CRMBOT_* environment
// variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config defines the application configuration for all components.
type Config struct {
	Log       LogConfig       `mapstructure:"log"`
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Gemini    GeminiConfig    `mapstructure:"gemini"`
	WhatsApp  WhatsAppConfig  `mapstructure:"whatsapp"`
	Geocode   GeocodeConfig   `mapstructure:"geocode"`
	Agenda    AgendaConfig    `mapstructure:"agenda"`
	Bot       BotConfig       `mapstructure:"bot"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
}

// LogConfig controls structured logging output.
type LogConfig struct {
	Level string `mapstructure:"level" validate:"oneof=debug info warn error"`
	JSON  bool   `mapstructure:"json"`
}

// ServerConfig controls the HTTP surface.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"              validate:"required"`
	APIKey          string        `mapstructure:"api_key"           validate:"required"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"  validate:"min=1s"`
	RateLimit       int           `mapstructure:"rate_limit"        validate:"min=1"`
}

// DatabaseConfig locates the SQLite database.
type DatabaseConfig struct {
	Path string `mapstructure:"path" validate:"required"`
}

// GeminiConfig configures the decision oracle.
type GeminiConfig struct {
	APIKey            string  `mapstructure:"api_key"             validate:"required"`
	ModelName         string  `mapstructure:"model_name"          validate:"required"`
	Temperature       float32 `mapstructure:"temperature"         validate:"min=0,max=2"`
	MaxRetries        int     `mapstructure:"max_retries"         validate:"min=0,max=10"`
	RetryDelaySeconds int     `mapstructure:"retry_delay_seconds" validate:"min=0"`
}

// WhatsAppConfig configures the Evolution API transport.
type WhatsAppConfig struct {
	BaseURL  string        `mapstructure:"base_url" validate:"required,url"`
	APIKey   string        `mapstructure:"api_key"  validate:"required"`
	Instance string        `mapstructure:"instance" validate:"required"`
	Timeout  time.Duration `mapstructure:"timeout"  validate:"min=1s"`
}

// GeocodeConfig configures the Google Maps geocoding collaborator.
type GeocodeConfig struct {
	APIKey  string        `mapstructure:"api_key"`
	Country string        `mapstructure:"country"`
	Timeout time.Duration `mapstructure:"timeout" validate:"min=1s"`
}

// AgendaConfig configures the appointment negotiation protocol and the
// scheduling back-end it submits to.
type AgendaConfig struct {
	// OperatorJID is the privileged sender address authorized to drive
	// agenda negotiation.
	OperatorJID string `mapstructure:"operator_jid" validate:"required"`

	SubmitURL    string `mapstructure:"submit_url" validate:"required,url"`
	SubmitAppKey string `mapstructure:"submit_app_key" validate:"required"`

	// Forwarded-chat start triggers. Pattern matching here is a product
	// decision, kept configurable on purpose.
	ForwardMarkers []string `mapstructure:"forward_markers"`
	CommandPrefix  string   `mapstructure:"command_prefix"`

	ConfirmKeyword string   `mapstructure:"confirm_keyword"`
	CancelKeywords []string `mapstructure:"cancel_keywords"`
	SubmitKeyword  string   `mapstructure:"submit_keyword"`

	DefaultTechName string `mapstructure:"default_tech_name"`
	Technicians     []Tech `mapstructure:"technicians"`
	DefaultTech     Tech   `mapstructure:"default_tech"`
}

// Tech maps a technician's display name fragment to the id pair the
// scheduling back-end expects.
type Tech struct {
	Match      string `mapstructure:"match"`
	EAID       int    `mapstructure:"ea_id"`
	ExternalID string `mapstructure:"external_id"`
}

// BotConfig configures the intent decision gate.
type BotConfig struct {
	// AdClickPhrases gate the canned greeting fast path for first contact.
	AdClickPhrases []string `mapstructure:"ad_click_phrases"`
	Greeting       string   `mapstructure:"greeting" validate:"required"`
	HistoryLimit   int      `mapstructure:"history_limit" validate:"min=1,max=100"`
}

// SchedulerConfig configures the follow-up scheduler tiers and sweeps.
type SchedulerConfig struct {
	Timezone string `mapstructure:"timezone" validate:"required"`

	BusinessHourStart int `mapstructure:"business_hour_start" validate:"min=0,max=23"`
	BusinessHourEnd   int `mapstructure:"business_hour_end"   validate:"min=1,max=24"`

	JitterMin time.Duration `mapstructure:"jitter_min"`
	JitterMax time.Duration `mapstructure:"jitter_max"`

	GhostingInterval  time.Duration `mapstructure:"ghosting_interval"  validate:"min=1m"`
	GhostingBatch     int           `mapstructure:"ghosting_batch"     validate:"min=1"`
	GhostingMinQuiet  time.Duration `mapstructure:"ghosting_min_quiet" validate:"min=1m"`
	GhostingMaxQuiet  time.Duration `mapstructure:"ghosting_max_quiet" validate:"min=1m"`
	GhostingSendDelay time.Duration `mapstructure:"ghosting_send_delay"`

	RevivalInterval time.Duration `mapstructure:"revival_interval" validate:"min=1m"`

	AnalysisCron   string        `mapstructure:"analysis_cron"   validate:"required"`
	AnalysisWindow time.Duration `mapstructure:"analysis_window" validate:"min=1h"`
	AnalysisDelay  time.Duration `mapstructure:"analysis_delay"`

	RemindersCron string `mapstructure:"reminders_cron" validate:"required"`

	// FollowUpMinAge is the just-in-time grace period: a pending
	// follow-up is cancelled when peer activity is newer than this.
	FollowUpMinAge time.Duration `mapstructure:"follow_up_min_age"`

	GhostScript   string `mapstructure:"ghost_script"   validate:"required"`
	RevivalScript string `mapstructure:"revival_script" validate:"required"`
}

// Load reads configuration from config.yaml and CRMBOT_* environment
// variables, applies defaults, and validates the result.
func Load(path string) (*Config, error) {
	setDefaults()

	viper.SetConfigFile(path)
	viper.SetConfigType("yaml")

	viper.SetEnvPrefix("CRMBOT")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Missing config file is fine, env vars and defaults apply.
	}

	cfg := &Config{}
	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	if cfg.Scheduler.GhostingMinQuiet >= cfg.Scheduler.GhostingMaxQuiet {
		return nil, fmt.Errorf("ghosting_min_quiet must be below ghosting_max_quiet")
	}
	if _, err := loadLocation(cfg.Scheduler.Timezone); err != nil {
		return nil, fmt.Errorf("invalid scheduler timezone %q: %w", cfg.Scheduler.Timezone, err)
	}

	return cfg, nil
}

func loadLocation(name string) (*time.Location, error) {
	return time.LoadLocation(name)
}

func setDefaults() {
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.json", true)

	viper.SetDefault("server.addr", ":3000")
	viper.SetDefault("server.shutdown_timeout", 10*time.Second)
	viper.SetDefault("server.rate_limit", 60)

	viper.SetDefault("database.path", "crmbot.db")

	viper.SetDefault("gemini.model_name", "gemini-2.5-flash")
	viper.SetDefault("gemini.temperature", 0.3)
	viper.SetDefault("gemini.max_retries", 2)
	viper.SetDefault("gemini.retry_delay_seconds", 2)

	viper.SetDefault("whatsapp.timeout", 30*time.Second)

	viper.SetDefault("geocode.country", "MX")
	viper.SetDefault("geocode.timeout", 10*time.Second)

	viper.SetDefault("agenda.forward_markers", []string{"YO:", "Date:"})
	viper.SetDefault("agenda.command_prefix", "/agendar")
	viper.SetDefault("agenda.confirm_keyword", "si")
	viper.SetDefault("agenda.cancel_keywords", []string{"reset", "cancelar"})
	viper.SetDefault("agenda.submit_keyword", "AGENDAR")
	viper.SetDefault("agenda.default_tech_name", "Por Asignar")

	viper.SetDefault("bot.ad_click_phrases", []string{"quiero más información", "facebook", "cotizar"})
	viper.SetDefault("bot.greeting",
		"Buen día ☀️\nMi nombre es *Mónica Hernández* de la empresa *Ingenieros Electricistas Luz en tu Espacio*. 💡\n\n¿Tienes problemas con recibos de luz muy altos o requieres algún otro servicio?")
	viper.SetDefault("bot.history_limit", 20)

	viper.SetDefault("scheduler.timezone", "America/Mexico_City")
	viper.SetDefault("scheduler.business_hour_start", 8)
	viper.SetDefault("scheduler.business_hour_end", 20)
	viper.SetDefault("scheduler.jitter_min", time.Minute)
	viper.SetDefault("scheduler.jitter_max", 5*time.Minute)

	viper.SetDefault("scheduler.ghosting_interval", 10*time.Minute)
	viper.SetDefault("scheduler.ghosting_batch", 3)
	viper.SetDefault("scheduler.ghosting_min_quiet", 2*time.Hour)
	viper.SetDefault("scheduler.ghosting_max_quiet", 24*time.Hour)
	viper.SetDefault("scheduler.ghosting_send_delay", 5*time.Second)

	viper.SetDefault("scheduler.revival_interval", 20*time.Minute)

	viper.SetDefault("scheduler.analysis_cron", "34 9 * * *")
	viper.SetDefault("scheduler.analysis_window", 48*time.Hour)
	viper.SetDefault("scheduler.analysis_delay", 4*time.Second)

	viper.SetDefault("scheduler.reminders_cron", "0 14-23,0-2 * * *")
	viper.SetDefault("scheduler.follow_up_min_age", time.Hour)

	viper.SetDefault("scheduler.ghost_script",
		"Hola! 👋 Vi que quedó pendiente tu solicitud de revisión. ¿Sigues interesado o prefieres que lo dejemos para otro momento?")
	viper.SetDefault("scheduler.revival_script",
		"Hola, buen día. ☀️\nSoy Mónica de Luz en tu Espacio.\n\nEstamos revisando reportes anteriores pendientes. Noté que te interesaste en nuestro servicio.\n\n¿Aún tienes problemas con tu instalación eléctrica/consumo o ya lograste resolverlo?\n(Quedo pendiente para cerrar tu expediente)")
}
