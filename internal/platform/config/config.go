package config

import (
	"errors"
	"fmt"
	"os"
	"time"
	_ "time/tzdata"

	"gopkg.in/yaml.v3"

	"github.com/kanatamon/covid19-home-isolation/internal/treatment"
)

const (
	DefaultConfigPath = "config/config.yaml"
	ModeDev           = "dev"
	ModeRelease       = "release"
)

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
}

type Certs struct {
	Cert string `yaml:"cert"`
	Key  string `yaml:"key"`
}

type ServerConfig struct {
	Addr        string   `yaml:"addr"`
	Certificate Certs    `yaml:"certificate"`
	CORSOrigins []string `yaml:"cors_origins"`
}

type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// TreatmentConfig: 日数・オフセットは必須（未設定のまま既定値で動かさない）
type TreatmentConfig struct {
	Days                  *int   `yaml:"days"`
	CertificateOffsetDays *int   `yaml:"certificate_offset_days"`
	LastServiceOffsetDays *int   `yaml:"last_service_offset_days"`
	HandOffHour           *int   `yaml:"handoff_hour"`
	TimeZone              string `yaml:"time_zone"`
}

type LineConfig struct {
	ChannelID          string `yaml:"channel_id"`
	ChannelAccessToken string `yaml:"channel_access_token"`
	ChannelSecret      string `yaml:"channel_secret"`
	LiffID             string `yaml:"liff_id"`
	APIBaseURL         string `yaml:"api_base_url"`
}

// NotifyConfig: 0 なら notify 側の既定値
type NotifyConfig struct {
	Workers     int           `yaml:"workers"`
	SendTimeout time.Duration `yaml:"send_timeout"`
}

type WebhookConfig struct {
	Secret string `yaml:"secret"`
}

// BootstrapAdmin: serve 起動時に無ければ作る最初の管理者（空なら何もしない）
type BootstrapAdmin struct {
	ID       string `yaml:"id"`
	Password string `yaml:"password"`
}

type AuthConfig struct {
	JWTSecret      string         `yaml:"jwt_secret"`
	TokenTTL       time.Duration  `yaml:"token_ttl"`
	BootstrapAdmin BootstrapAdmin `yaml:"bootstrap_admin"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

type Config struct {
	Version   string          `yaml:"version"`
	Mode      string          `yaml:"mode"`
	Server    ServerConfig    `yaml:"server"`
	DB        DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Treatment TreatmentConfig `yaml:"treatment"`
	Line      LineConfig      `yaml:"line"`
	Webhook   WebhookConfig   `yaml:"webhook"`
	Notify    NotifyConfig    `yaml:"notify"`
	Auth      AuthConfig      `yaml:"auth"`
	Log       LogConfig       `yaml:"log"`
}

// LoadConfig: YAML を読み込み、${VAR} を環境変数で展開してから検証する
func LoadConfig(path string) (*Config, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(buf)
}

func Parse(buf []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(buf))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Mode == "" {
		c.Mode = ModeRelease
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8443"
	}
	if c.Auth.TokenTTL == 0 {
		c.Auth.TokenTTL = 24 * time.Hour
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Line.APIBaseURL == "" {
		c.Line.APIBaseURL = "https://api.line.me"
	}
}

var ErrInvalidConfig = errors.New("invalid config")

func (c *Config) Validate() error {
	if c.Mode != ModeDev && c.Mode != ModeRelease {
		return fmt.Errorf("%w: mode must be %q or %q", ErrInvalidConfig, ModeDev, ModeRelease)
	}
	t := c.Treatment
	if t.Days == nil {
		return fmt.Errorf("%w: treatment.days is required", ErrInvalidConfig)
	}
	if t.CertificateOffsetDays == nil {
		return fmt.Errorf("%w: treatment.certificate_offset_days is required", ErrInvalidConfig)
	}
	if t.LastServiceOffsetDays == nil {
		return fmt.Errorf("%w: treatment.last_service_offset_days is required", ErrInvalidConfig)
	}
	if t.TimeZone == "" {
		return fmt.Errorf("%w: treatment.time_zone is required", ErrInvalidConfig)
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := c.TreatmentPolicy().Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("%w: auth.jwt_secret is required", ErrInvalidConfig)
	}
	if c.Webhook.Secret == "" {
		return fmt.Errorf("%w: webhook.secret is required", ErrInvalidConfig)
	}
	if c.Notify.Workers < 0 || c.Notify.SendTimeout < 0 {
		return fmt.Errorf("%w: notify.workers and notify.send_timeout must not be negative", ErrInvalidConfig)
	}
	if b := c.Auth.BootstrapAdmin; (b.ID == "") != (b.Password == "") {
		return fmt.Errorf("%w: auth.bootstrap_admin needs both id and password", ErrInvalidConfig)
	}
	return nil
}

// Location: 日付境界の基準となるタイムゾーン
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Treatment.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("unknown time zone %q: %w", c.Treatment.TimeZone, err)
	}
	return loc, nil
}

func (c *Config) TreatmentPolicy() treatment.Policy {
	p := treatment.Policy{HandOffHour: treatment.DefaultHandOffHour}
	if c.Treatment.Days != nil {
		p.TreatmentDays = *c.Treatment.Days
	}
	if c.Treatment.CertificateOffsetDays != nil {
		p.CertificateOffsetDays = *c.Treatment.CertificateOffsetDays
	}
	if c.Treatment.LastServiceOffsetDays != nil {
		p.LastServiceOffsetDays = *c.Treatment.LastServiceOffsetDays
	}
	if c.Treatment.HandOffHour != nil {
		p.HandOffHour = *c.Treatment.HandOffHour
	}
	return p
}
