package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string
	Timezone  string

	Database     DatabaseConfig
	Redis        RedisConfig
	Log          LogConfig
	HTTPClient   HTTPClientConfig
	Source       SourceConfig
	DingTalk     DingTalkConfig
	Dispatch     DispatchConfig
	Subscription SubscriptionConfig
	Delivery     DeliveryConfig
	Export       ExportConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Enabled     bool
	Host        string
	Port        int
	Password    string
	DB          int
	IdentityTTL time.Duration
	ClaimTTL    time.Duration
}

type LogConfig struct {
	Level  string
	Format string

	File           string
	FileMaxSizeMB  int
	FileMaxBackups int
	FileMaxAgeDays int
}

// HTTPClientConfig bounds every outbound call made to the source or the gateway.
type HTTPClientConfig struct {
	Timeout    time.Duration
	Retries    int
	RetryDelay time.Duration
}

// SourceConfig points at the records backend holding the course catalog.
type SourceConfig struct {
	BaseURL          string
	CourseCollection string
	PageSize         int
	Identity         string
	Password         string
}

// DingTalkConfig holds the messaging platform application credentials.
type DingTalkConfig struct {
	OAPIBaseURL  string
	APIBaseURL   string
	AppKey       string
	AppSecret    string
	RobotCode    string
	SendInterval time.Duration

	// Smart form holding subscriptions. An empty FormName picks the first form.
	FormName        string
	FormPushLabel   string
	FormPushEnabled string
	FormURLLabel    string
}

// DispatchConfig holds trigger expressions and fan-out limits.
type DispatchConfig struct {
	RefreshSpec  string
	MorningSpec  string
	SlotSpecs    []string
	EveningSpec  string
	MisfireGrace time.Duration
	Workers      int
}

// SubscriptionConfig controls how subscription links are interpreted.
type SubscriptionConfig struct {
	URLPrefix string
}

// ExportConfig configures preview documents. PDFFontFile is a TTF with CJK
// glyphs; without it PDFs fall back to the cp1252 core fonts.
type ExportConfig struct {
	PDFFontFile string
}

// DeliveryConfig toggles the Postgres-backed delivery audit log.
type DeliveryConfig struct {
	LogEnabled bool
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	return fromViper(v), nil
}

func fromViper(v *viper.Viper) *Config {
	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")
	cfg.Timezone = v.GetString("TIMEZONE")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Enabled:     v.GetBool("ENABLE_REDIS"),
		Host:        v.GetString("REDIS_HOST"),
		Port:        v.GetInt("REDIS_PORT"),
		Password:    v.GetString("REDIS_PASSWORD"),
		DB:          v.GetInt("REDIS_DB"),
		IdentityTTL: parseDuration(v.GetString("IDENTITY_CACHE_TTL"), 24*time.Hour),
		ClaimTTL:    parseDuration(v.GetString("DELIVERY_CLAIM_TTL"), 36*time.Hour),
	}

	cfg.Log = LogConfig{
		Level:          v.GetString("LOG_LEVEL"),
		Format:         v.GetString("LOG_FORMAT"),
		File:           v.GetString("LOG_FILE"),
		FileMaxSizeMB:  v.GetInt("LOG_FILE_MAX_SIZE_MB"),
		FileMaxBackups: v.GetInt("LOG_FILE_MAX_BACKUPS"),
		FileMaxAgeDays: v.GetInt("LOG_FILE_MAX_AGE_DAYS"),
	}

	cfg.HTTPClient = HTTPClientConfig{
		Timeout:    parseDuration(v.GetString("HTTP_TIMEOUT"), 10*time.Second),
		Retries:    v.GetInt("HTTP_RETRIES"),
		RetryDelay: parseDuration(v.GetString("HTTP_RETRY_DELAY"), 2*time.Second),
	}

	cfg.Source = SourceConfig{
		BaseURL:          strings.TrimRight(v.GetString("SOURCE_BASE_URL"), "/"),
		CourseCollection: v.GetString("SOURCE_COURSE_COLLECTION"),
		PageSize:         v.GetInt("SOURCE_PAGE_SIZE"),
		Identity:         v.GetString("SOURCE_IDENTITY"),
		Password:         v.GetString("SOURCE_PASSWORD"),
	}

	cfg.DingTalk = DingTalkConfig{
		OAPIBaseURL:  strings.TrimRight(v.GetString("DINGTALK_OAPI_URL"), "/"),
		APIBaseURL:   strings.TrimRight(v.GetString("DINGTALK_API_URL"), "/"),
		AppKey:       v.GetString("DINGTALK_APP_KEY"),
		AppSecret:    v.GetString("DINGTALK_APP_SECRET"),
		RobotCode:    v.GetString("DINGTALK_ROBOT_CODE"),
		SendInterval: parseDuration(v.GetString("DINGTALK_SEND_INTERVAL"), time.Second),

		FormName:        v.GetString("DINGTALK_FORM_NAME"),
		FormPushLabel:   v.GetString("DINGTALK_FORM_PUSH_LABEL"),
		FormPushEnabled: v.GetString("DINGTALK_FORM_PUSH_ENABLED"),
		FormURLLabel:    v.GetString("DINGTALK_FORM_URL_LABEL"),
	}

	cfg.Export = ExportConfig{PDFFontFile: v.GetString("PDF_FONT_FILE")}

	cfg.Dispatch = DispatchConfig{
		RefreshSpec: v.GetString("SCHEDULE_REFRESH"),
		MorningSpec: v.GetString("SCHEDULE_MORNING"),
		SlotSpecs: []string{
			v.GetString("SCHEDULE_SLOT_1"),
			v.GetString("SCHEDULE_SLOT_2"),
			v.GetString("SCHEDULE_SLOT_3"),
			v.GetString("SCHEDULE_SLOT_4"),
			v.GetString("SCHEDULE_SLOT_5"),
		},
		EveningSpec:  v.GetString("SCHEDULE_EVENING"),
		MisfireGrace: parseDuration(v.GetString("MISFIRE_GRACE"), 10*time.Minute),
		Workers:      v.GetInt("DISPATCH_WORKERS"),
	}

	cfg.Subscription = SubscriptionConfig{
		URLPrefix: v.GetString("SUBSCRIPTION_URL_PREFIX"),
	}

	cfg.Delivery = DeliveryConfig{
		LogEnabled: v.GetBool("ENABLE_DELIVERY_LOG"),
	}

	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")
	v.SetDefault("TIMEZONE", "Asia/Shanghai")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "digest_notifier")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 5)
	v.SetDefault("DB_MAX_IDLE_CONNS", 2)

	v.SetDefault("ENABLE_REDIS", false)
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("IDENTITY_CACHE_TTL", "24h")
	v.SetDefault("DELIVERY_CLAIM_TTL", "36h")

	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("LOG_FILE", "")
	v.SetDefault("LOG_FILE_MAX_SIZE_MB", 50)
	v.SetDefault("LOG_FILE_MAX_BACKUPS", 7)
	v.SetDefault("LOG_FILE_MAX_AGE_DAYS", 30)

	v.SetDefault("HTTP_TIMEOUT", "10s")
	v.SetDefault("HTTP_RETRIES", 3)
	v.SetDefault("HTTP_RETRY_DELAY", "2s")

	v.SetDefault("SOURCE_BASE_URL", "https://sillage.siae.top")
	v.SetDefault("SOURCE_COURSE_COLLECTION", "course")
	v.SetDefault("SOURCE_PAGE_SIZE", 200)
	v.SetDefault("SOURCE_IDENTITY", "")
	v.SetDefault("SOURCE_PASSWORD", "")

	v.SetDefault("DINGTALK_OAPI_URL", "https://oapi.dingtalk.com")
	v.SetDefault("DINGTALK_API_URL", "https://api.dingtalk.com")
	v.SetDefault("DINGTALK_APP_KEY", "")
	v.SetDefault("DINGTALK_APP_SECRET", "")
	v.SetDefault("DINGTALK_ROBOT_CODE", "")
	v.SetDefault("DINGTALK_SEND_INTERVAL", "1s")
	v.SetDefault("DINGTALK_FORM_NAME", "")
	v.SetDefault("DINGTALK_FORM_PUSH_LABEL", "是否启用钉钉推送？")
	v.SetDefault("DINGTALK_FORM_PUSH_ENABLED", "启用")
	v.SetDefault("DINGTALK_FORM_URL_LABEL", "请输入您要订阅的课表网址：")

	v.SetDefault("SCHEDULE_REFRESH", "@every 1h")
	v.SetDefault("SCHEDULE_MORNING", "30 6 * * *")
	v.SetDefault("SCHEDULE_SLOT_1", "40 9 * * *")
	v.SetDefault("SCHEDULE_SLOT_2", "45 11 * * *")
	v.SetDefault("SCHEDULE_SLOT_3", "10 15 * * *")
	v.SetDefault("SCHEDULE_SLOT_4", "15 17 * * *")
	v.SetDefault("SCHEDULE_SLOT_5", "10 20 * * *")
	v.SetDefault("SCHEDULE_EVENING", "30 20 * * *")
	v.SetDefault("MISFIRE_GRACE", "10m")
	v.SetDefault("DISPATCH_WORKERS", 4)

	v.SetDefault("SUBSCRIPTION_URL_PREFIX", "")
	v.SetDefault("ENABLE_DELIVERY_LOG", false)
	v.SetDefault("PDF_FONT_FILE", "")
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}
