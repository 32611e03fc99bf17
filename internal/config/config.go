package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	Budget   BudgetConfig   `yaml:"budget" mapstructure:"budget"`
	Cascade  CascadeConfig  `yaml:"cascade" mapstructure:"cascade"`
	Scoring  ScoringConfig  `yaml:"scoring" mapstructure:"scoring"`
	ICP      ICPConfig      `yaml:"icp" mapstructure:"icp"`
	Tiers    TierConfig     `yaml:"tiers" mapstructure:"tiers"`
	Retry    RetryConfig    `yaml:"retry" mapstructure:"retry"`
	Pipeline PipelineConfig `yaml:"pipeline" mapstructure:"pipeline"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`

	Providers ProvidersConfig `yaml:"providers" mapstructure:"providers"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Attio     AttioConfig     `yaml:"attio" mapstructure:"attio"`
	Resend    ResendConfig    `yaml:"resend" mapstructure:"resend"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// BudgetConfig caps monthly spend across all paid providers.
type BudgetConfig struct {
	MonthlyUSD     float64 `yaml:"monthly_usd" mapstructure:"monthly_usd"`
	AlertThreshold float64 `yaml:"alert_threshold" mapstructure:"alert_threshold"`
	HardStop       bool    `yaml:"hard_stop" mapstructure:"hard_stop"`
	Timezone       string  `yaml:"timezone" mapstructure:"timezone"`
}

// CascadeConfig orders providers per field category and tunes dedup behavior.
type CascadeConfig struct {
	CompanyOrder      []string `yaml:"company_order" mapstructure:"company_order"`
	ContactOrder      []string `yaml:"contact_order" mapstructure:"contact_order"`
	EmailVerification string   `yaml:"email_verification" mapstructure:"email_verification"`
	StopOnSuccess     bool     `yaml:"stop_on_success" mapstructure:"stop_on_success"`
	DedupTTLHours     int      `yaml:"dedup_ttl_hours" mapstructure:"dedup_ttl_hours"`
	WaitForRateLimit  bool     `yaml:"wait_for_rate_limit" mapstructure:"wait_for_rate_limit"`
}

// ProviderConfig configures one paid data provider.
type ProviderConfig struct {
	Key               string  `yaml:"key" mapstructure:"key"`
	BaseURL           string  `yaml:"base_url" mapstructure:"base_url"`
	Enabled           bool    `yaml:"enabled" mapstructure:"enabled"`
	CostPerRequest    float64 `yaml:"cost_per_request" mapstructure:"cost_per_request"`
	RequestsPerMinute int     `yaml:"requests_per_minute" mapstructure:"requests_per_minute"`
	Burst             int     `yaml:"burst" mapstructure:"burst"`
}

// ProvidersConfig holds all enrichment provider settings.
type ProvidersConfig struct {
	Apollo          ProviderConfig `yaml:"apollo" mapstructure:"apollo"`
	Clearbit        ProviderConfig `yaml:"clearbit" mapstructure:"clearbit"`
	Hunter          ProviderConfig `yaml:"hunter" mapstructure:"hunter"`
	Prospeo         ProviderConfig `yaml:"prospeo" mapstructure:"prospeo"`
	Dropcontact     ProviderConfig `yaml:"dropcontact" mapstructure:"dropcontact"`
	ZeroBounce      ProviderConfig `yaml:"zerobounce" mapstructure:"zerobounce"`
	GlobalPerMinute int            `yaml:"global_per_minute" mapstructure:"global_per_minute"`
}

// ScoringConfig holds the weights for the scoring engine. Supplied as
// configuration, never hard-coded in the engine.
type ScoringConfig struct {
	IndustryMatch  float64 `yaml:"industry_match" mapstructure:"industry_match"`
	RevenueFit     float64 `yaml:"revenue_fit" mapstructure:"revenue_fit"`
	TechStackMatch float64 `yaml:"tech_stack_match" mapstructure:"tech_stack_match"`
	EmployeeFit    float64 `yaml:"employee_fit" mapstructure:"employee_fit"`
	GeographyMatch float64 `yaml:"geography_match" mapstructure:"geography_match"`
	TitleMatch     float64 `yaml:"title_match" mapstructure:"title_match"`

	RecentFundingBonus float64 `yaml:"recent_funding_bonus" mapstructure:"recent_funding_bonus"`
	HiringBonus        float64 `yaml:"hiring_bonus" mapstructure:"hiring_bonus"`
	OpenPositionsBonus float64 `yaml:"open_positions_bonus" mapstructure:"open_positions_bonus"`

	MaxScore float64 `yaml:"max_score" mapstructure:"max_score"`
}

// ICPConfig describes the ideal customer profile the scorer matches against.
type ICPConfig struct {
	TargetIndustries   []string `yaml:"target_industries" mapstructure:"target_industries"`
	ExcludedIndustries []string `yaml:"excluded_industries" mapstructure:"excluded_industries"`
	MinEmployees       int      `yaml:"min_employees" mapstructure:"min_employees"`
	MaxEmployees       int      `yaml:"max_employees" mapstructure:"max_employees"`
	MinRevenue         float64  `yaml:"min_revenue" mapstructure:"min_revenue"`
	MaxRevenue         float64  `yaml:"max_revenue" mapstructure:"max_revenue"`
	TargetCountries    []string `yaml:"target_countries" mapstructure:"target_countries"`
	TargetRegions      []string `yaml:"target_regions" mapstructure:"target_regions"`
	TargetTechnologies []string `yaml:"target_technologies" mapstructure:"target_technologies"`
	TargetTitles       []string `yaml:"target_titles" mapstructure:"target_titles"`
	TargetDepartments  []string `yaml:"target_departments" mapstructure:"target_departments"`
}

// TierConfig holds tier thresholds.
type TierConfig struct {
	HighTouchMin float64 `yaml:"high_touch_min" mapstructure:"high_touch_min"`
	StandardMin  float64 `yaml:"standard_min" mapstructure:"standard_min"`
}

// RetryConfig tunes transient-error retries.
type RetryConfig struct {
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMS int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMS     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	Multiplier       float64 `yaml:"multiplier" mapstructure:"multiplier"`
	JitterFraction   float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
}

// PipelineConfig tunes batch execution.
type PipelineConfig struct {
	MaxConcurrentLeads int `yaml:"max_concurrent_leads" mapstructure:"max_concurrent_leads"`
	CallTimeoutSecs    int `yaml:"call_timeout_secs" mapstructure:"call_timeout_secs"`
}

// AnthropicConfig holds the AI client settings for research and messaging.
type AnthropicConfig struct {
	Key               string  `yaml:"key" mapstructure:"key"`
	Model             string  `yaml:"model" mapstructure:"model"`
	MaxTokens         int     `yaml:"max_tokens" mapstructure:"max_tokens"`
	CostPerRequest    float64 `yaml:"cost_per_request" mapstructure:"cost_per_request"`
	RequestsPerMinute int     `yaml:"requests_per_minute" mapstructure:"requests_per_minute"`
}

// AttioConfig holds the CRM sync settings.
type AttioConfig struct {
	Key               string `yaml:"key" mapstructure:"key"`
	BaseURL           string `yaml:"base_url" mapstructure:"base_url"`
	RequestsPerMinute int    `yaml:"requests_per_minute" mapstructure:"requests_per_minute"`
}

// ResendConfig holds the campaign sender settings.
type ResendConfig struct {
	Key               string `yaml:"key" mapstructure:"key"`
	BaseURL           string `yaml:"base_url" mapstructure:"base_url"`
	FromEmail         string `yaml:"from_email" mapstructure:"from_email"`
	FromName          string `yaml:"from_name" mapstructure:"from_name"`
	DailyLimit        int    `yaml:"daily_limit" mapstructure:"daily_limit"`
	RequestsPerMinute int    `yaml:"requests_per_minute" mapstructure:"requests_per_minute"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("LEADS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)

	v.SetDefault("budget.monthly_usd", 100.0)
	v.SetDefault("budget.alert_threshold", 0.8)
	v.SetDefault("budget.hard_stop", true)
	v.SetDefault("budget.timezone", "UTC")

	v.SetDefault("cascade.company_order", []string{"apollo", "clearbit"})
	v.SetDefault("cascade.contact_order", []string{"apollo", "prospeo", "hunter", "dropcontact"})
	v.SetDefault("cascade.email_verification", "zerobounce")
	v.SetDefault("cascade.stop_on_success", true)
	v.SetDefault("cascade.dedup_ttl_hours", 720)
	v.SetDefault("cascade.wait_for_rate_limit", false)

	v.SetDefault("providers.apollo.enabled", true)
	v.SetDefault("providers.apollo.base_url", "https://api.apollo.io/v1")
	v.SetDefault("providers.apollo.cost_per_request", 0.03)
	v.SetDefault("providers.apollo.requests_per_minute", 100)
	v.SetDefault("providers.clearbit.enabled", true)
	v.SetDefault("providers.clearbit.base_url", "https://company.clearbit.com/v2")
	v.SetDefault("providers.clearbit.cost_per_request", 0.10)
	v.SetDefault("providers.clearbit.requests_per_minute", 60)
	v.SetDefault("providers.hunter.enabled", true)
	v.SetDefault("providers.hunter.base_url", "https://api.hunter.io/v2")
	v.SetDefault("providers.hunter.cost_per_request", 0.01)
	v.SetDefault("providers.hunter.requests_per_minute", 100)
	v.SetDefault("providers.prospeo.enabled", true)
	v.SetDefault("providers.prospeo.base_url", "https://api.prospeo.io")
	v.SetDefault("providers.prospeo.cost_per_request", 0.05)
	v.SetDefault("providers.prospeo.requests_per_minute", 60)
	v.SetDefault("providers.dropcontact.enabled", true)
	v.SetDefault("providers.dropcontact.base_url", "https://api.dropcontact.io")
	v.SetDefault("providers.dropcontact.cost_per_request", 0.04)
	v.SetDefault("providers.dropcontact.requests_per_minute", 50)
	v.SetDefault("providers.zerobounce.enabled", true)
	v.SetDefault("providers.zerobounce.base_url", "https://api.zerobounce.net/v2")
	v.SetDefault("providers.zerobounce.cost_per_request", 0.008)
	v.SetDefault("providers.zerobounce.requests_per_minute", 200)
	v.SetDefault("providers.global_per_minute", 300)

	v.SetDefault("scoring.industry_match", 25)
	v.SetDefault("scoring.revenue_fit", 20)
	v.SetDefault("scoring.tech_stack_match", 20)
	v.SetDefault("scoring.employee_fit", 15)
	v.SetDefault("scoring.geography_match", 10)
	v.SetDefault("scoring.title_match", 10)
	v.SetDefault("scoring.recent_funding_bonus", 15)
	v.SetDefault("scoring.hiring_bonus", 10)
	v.SetDefault("scoring.open_positions_bonus", 10)
	v.SetDefault("scoring.max_score", 100)

	v.SetDefault("icp.target_industries", []string{"Software", "Technology", "SaaS", "FinTech", "E-commerce", "Digital Marketing"})
	v.SetDefault("icp.excluded_industries", []string{"Government", "Non-profit", "Education"})
	v.SetDefault("icp.min_employees", 50)
	v.SetDefault("icp.max_employees", 1000)
	v.SetDefault("icp.min_revenue", 5_000_000)
	v.SetDefault("icp.max_revenue", 100_000_000)
	v.SetDefault("icp.target_countries", []string{"US", "UK", "CA", "DE", "NL"})
	v.SetDefault("icp.target_regions", []string{"North America", "Europe", "Western Europe"})
	v.SetDefault("icp.target_technologies", []string{"Salesforce", "HubSpot", "Marketo", "Segment", "Mixpanel", "Amplitude"})
	v.SetDefault("icp.target_titles", []string{"VP", "Director", "Head", "Chief", "Founder", "CEO", "CTO", "CMO", "CRO"})
	v.SetDefault("icp.target_departments", []string{"Sales", "Marketing", "Revenue", "Growth", "Operations"})

	v.SetDefault("tiers.high_touch_min", 80)
	v.SetDefault("tiers.standard_min", 50)

	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_backoff_ms", 500)
	v.SetDefault("retry.max_backoff_ms", 30000)
	v.SetDefault("retry.multiplier", 2.0)
	v.SetDefault("retry.jitter_fraction", 0.25)

	v.SetDefault("pipeline.max_concurrent_leads", 5)
	v.SetDefault("pipeline.call_timeout_secs", 30)

	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 1000)
	v.SetDefault("anthropic.cost_per_request", 0.002)
	v.SetDefault("anthropic.requests_per_minute", 60)

	v.SetDefault("attio.base_url", "https://api.attio.com/v2")
	v.SetDefault("attio.requests_per_minute", 100)

	v.SetDefault("resend.base_url", "https://api.resend.com")
	v.SetDefault("resend.from_email", "noreply@example.com")
	v.SetDefault("resend.daily_limit", 100)
	v.SetDefault("resend.requests_per_minute", 7)
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
