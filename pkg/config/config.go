package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/betbot/gocopy/internal/domain"
)

const (
	ModeStream = "stream"
	ModePoll   = "poll"

	BarrierGlobal = "global"
	BarrierPerKey = "per-key"
)

var knownExchanges = map[string]bool{"blockfin": true, "bitruth": true, "binance": true}

// streamExchanges 支持主账户订单推送的交易所
var streamExchanges = map[string]bool{"blockfin": true, "binance": true}

// Endpoints 覆盖交易所地址，为空时使用适配器默认值
type Endpoints struct {
	RESTURL  string `yaml:"rest_url" json:"rest_url"`
	WSURL    string `yaml:"ws_url" json:"ws_url"`
	OAuthURL string `yaml:"oauth_url" json:"oauth_url"`
}

// AccountConfig 配置文件中的账户凭证
type AccountConfig struct {
	ID             string          `yaml:"id" json:"id"`
	Name           string          `yaml:"name" json:"name"`
	Exchange       string          `yaml:"exchange" json:"exchange"`
	Key            string          `yaml:"key" json:"key"`
	Secret         string          `yaml:"secret" json:"secret"`
	Passphrase     string          `yaml:"passphrase" json:"passphrase"`
	Username       string          `yaml:"username" json:"username"`
	Password       string          `yaml:"password" json:"password"`
	ClientSecret   string          `yaml:"client_secret" json:"client_secret"`
	SizeMultiplier decimal.Decimal `yaml:"size_multiplier" json:"size_multiplier"`
	SlippageLimit  decimal.Decimal `yaml:"slippage_limit" json:"slippage_limit"`
	Leverage       int             `yaml:"leverage" json:"leverage"`
	Endpoints      `yaml:",inline"`
}

// Credential 转换为运行时凭证
func (a AccountConfig) Credential() domain.Credential {
	return domain.Credential{
		AccountID:      a.ID,
		Name:           a.Name,
		Exchange:       strings.ToLower(a.Exchange),
		APIKey:         a.Key,
		APISecret:      a.Secret,
		Passphrase:     a.Passphrase,
		Username:       a.Username,
		Password:       a.Password,
		ClientSecret:   a.ClientSecret,
		SizeMultiplier: a.SizeMultiplier,
		SlippageLimit:  a.SlippageLimit,
		Leverage:       a.Leverage,
	}
}

// ServerConfig 中继主机，为 id 或名称与 Name 相同的跟单账户执行请求
type ServerConfig struct {
	Name    string `yaml:"name" json:"name"`
	Host    string `yaml:"host" json:"host"`
	Port    int    `yaml:"port" json:"port"`
	User    string `yaml:"user" json:"user"`
	KeyPath string `yaml:"key_path" json:"key_path"`
	Token   string `yaml:"token" json:"token"`
}

type LogConfig struct {
	Level      string `yaml:"level" json:"level"`
	File       string `yaml:"file" json:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb" json:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups" json:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days" json:"max_age_days"`
	JSON       bool   `yaml:"json" json:"json"`
}

// ConfigFile 配置文件结构（YAML 或 JSON）。时长使用字符串，
// 如 "800ms"，两种格式解析方式一致
type ConfigFile struct {
	Mode                 string          `yaml:"mode" json:"mode"`
	Master               AccountConfig   `yaml:"master" json:"master"`
	Followers            []AccountConfig `yaml:"followers" json:"followers"`
	Servers              []ServerConfig  `yaml:"servers" json:"servers"`
	Symbol               string          `yaml:"symbol" json:"symbol"`
	ContractType         string          `yaml:"contract_type" json:"contract_type"`
	PollInterval         string          `yaml:"poll_interval" json:"poll_interval"`
	QtyEpsilon           decimal.Decimal `yaml:"qty_epsilon" json:"qty_epsilon"`
	PingInterval         string          `yaml:"ping_interval" json:"ping_interval"`
	BackoffMin           string          `yaml:"backoff_min" json:"backoff_min"`
	BackoffMax           string          `yaml:"backoff_max" json:"backoff_max"`
	FollowerTimeout      string          `yaml:"follower_timeout" json:"follower_timeout"`
	Barrier              string          `yaml:"barrier" json:"barrier"`
	DedupTTL             string          `yaml:"dedup_ttl" json:"dedup_ttl"`
	DataDir              string          `yaml:"data_dir" json:"data_dir"`
	StatusAddr           string          `yaml:"status_addr" json:"status_addr"`
	MetricsAddr          string          `yaml:"metrics_addr" json:"metrics_addr"`
	Proxy                string          `yaml:"proxy" json:"proxy"`
	DryRun               bool            `yaml:"dry_run" json:"dry_run"`
	MaxConsecutiveErrors int64           `yaml:"max_consecutive_errors" json:"max_consecutive_errors"`
	Log                  LogConfig       `yaml:"log" json:"log"`
}

// Config 校验后的运行时配置
type Config struct {
	Mode                 string
	Master               AccountConfig
	Followers            []AccountConfig
	Servers              []ServerConfig
	Symbol               string
	ContractType         string
	PollInterval         time.Duration
	QtyEpsilon           decimal.Decimal
	PingInterval         time.Duration
	BackoffMin           time.Duration
	BackoffMax           time.Duration
	FollowerTimeout      time.Duration
	Barrier              string
	DedupTTL             time.Duration
	DataDir              string
	StatusAddr           string
	MetricsAddr          string
	Proxy                string
	DryRun               bool
	MaxConsecutiveErrors int64
	Log                  LogConfig
}

var (
	defaultSlippage = decimal.RequireFromString("0.005")
	defaultEpsilon  = decimal.New(1, -10)
)

// LoadFromFile 读取 filePath（可选），应用环境变量覆盖和默认值，
// 并校验结果
func LoadFromFile(filePath string) (*Config, error) {
	cf := &ConfigFile{}
	if filePath != "" {
		var err error
		cf, err = loadConfigFile(filePath)
		if err != nil {
			return nil, errors.Wrapf(err, "load config %s", filePath)
		}
	}
	cfg, err := build(cf)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadConfigFile(filePath string) (*ConfigFile, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	var cf ConfigFile
	switch ext := strings.ToLower(filepath.Ext(filePath)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cf); err != nil {
			return nil, errors.Wrap(err, "parse yaml")
		}
	case ".json":
		if err := json.Unmarshal(data, &cf); err != nil {
			return nil, errors.Wrap(err, "parse json")
		}
	default:
		return nil, errors.Errorf("unsupported config format %q (want .yaml, .yml or .json)", ext)
	}
	return &cf, nil
}

func build(cf *ConfigFile) (*Config, error) {
	master := cf.Master
	master.Exchange = strings.ToLower(getEnv("MASTER_EXCHANGE", master.Exchange))
	master.Key = getEnv("MASTER_API_KEY", master.Key)
	master.Secret = getEnv("MASTER_API_SECRET", master.Secret)
	master.Passphrase = getEnv("MASTER_PASSPHRASE", master.Passphrase)
	master.Username = getEnv("MASTER_USERNAME", master.Username)
	master.Password = getEnv("MASTER_PASSWORD", master.Password)
	master.ClientSecret = getEnv("MASTER_CLIENT_SECRET", master.ClientSecret)
	if master.ID == "" {
		master.ID = "master"
	}

	cfg := &Config{
		Mode:                 strings.ToLower(getEnv("GOCOPY_MODE", orDefault(cf.Mode, ModeStream))),
		Master:               master,
		Servers:              cf.Servers,
		Symbol:               getEnv("GOCOPY_SYMBOL", cf.Symbol),
		ContractType:         cf.ContractType,
		QtyEpsilon:           cf.QtyEpsilon,
		Barrier:              strings.ToLower(orDefault(cf.Barrier, BarrierGlobal)),
		DataDir:              getEnv("GOCOPY_DATA_DIR", orDefault(cf.DataDir, "data")),
		StatusAddr:           getEnv("GOCOPY_STATUS_ADDR", cf.StatusAddr),
		MetricsAddr:          getEnv("GOCOPY_METRICS_ADDR", cf.MetricsAddr),
		Proxy:                getEnv("GOCOPY_PROXY", cf.Proxy),
		DryRun:               parseBoolEnv("GOCOPY_DRY_RUN", cf.DryRun),
		MaxConsecutiveErrors: cf.MaxConsecutiveErrors,
		Log:                  cf.Log,
	}
	if !cfg.QtyEpsilon.IsPositive() {
		cfg.QtyEpsilon = defaultEpsilon
	}
	cfg.Log.Level = getEnv("LOG_LEVEL", orDefault(cfg.Log.Level, "info"))
	if cfg.Log.MaxSizeMB == 0 {
		cfg.Log.MaxSizeMB = 100
	}
	if cfg.Log.MaxBackups == 0 {
		cfg.Log.MaxBackups = 5
	}
	if cfg.Log.MaxAgeDays == 0 {
		cfg.Log.MaxAgeDays = 14
	}

	durations := []struct {
		name string
		raw  string
		def  time.Duration
		dst  *time.Duration
	}{
		{"poll_interval", getEnv("GOCOPY_POLL_INTERVAL", cf.PollInterval), 800 * time.Millisecond, &cfg.PollInterval},
		{"ping_interval", cf.PingInterval, 25 * time.Second, &cfg.PingInterval},
		{"backoff_min", cf.BackoffMin, time.Second, &cfg.BackoffMin},
		{"backoff_max", cf.BackoffMax, 30 * time.Second, &cfg.BackoffMax},
		{"follower_timeout", cf.FollowerTimeout, 25 * time.Second, &cfg.FollowerTimeout},
		{"dedup_ttl", cf.DedupTTL, 24 * time.Hour, &cfg.DedupTTL},
	}
	for _, d := range durations {
		v, err := parseDuration(d.raw, d.def)
		if err != nil {
			return nil, errors.Wrapf(err, "%s", d.name)
		}
		*d.dst = v
	}

	for i, f := range cf.Followers {
		f.Exchange = strings.ToLower(strings.TrimSpace(f.Exchange))
		if f.ID == "" {
			f.ID = f.Name
		}
		if f.ID == "" {
			f.ID = fmt.Sprintf("follower-%d", i+1)
		}
		if f.SizeMultiplier.IsZero() {
			f.SizeMultiplier = decimal.NewFromInt(1)
		}
		if f.SlippageLimit.IsZero() {
			f.SlippageLimit = defaultSlippage
		}
		cfg.Followers = append(cfg.Followers, f)
	}
	return cfg, nil
}

// Validate 返回发现的第一个配置错误
func (c *Config) Validate() error {
	if c.Mode != ModeStream && c.Mode != ModePoll {
		return errors.Errorf("mode must be %q or %q, got %q", ModeStream, ModePoll, c.Mode)
	}
	if !knownExchanges[c.Master.Exchange] {
		return errors.Errorf("master exchange %q is not supported", c.Master.Exchange)
	}
	if c.Mode == ModeStream && !streamExchanges[c.Master.Exchange] {
		return errors.Errorf("master exchange %q has no order stream; use mode %q", c.Master.Exchange, ModePoll)
	}
	if err := checkSecrets("master", c.Master); err != nil {
		return err
	}
	if len(c.Followers) == 0 {
		return errors.New("at least one follower is required")
	}
	ids := map[string]bool{}
	for _, f := range c.Followers {
		if ids[f.ID] {
			return errors.Errorf("duplicate follower id %q", f.ID)
		}
		ids[f.ID] = true
		if !knownExchanges[f.Exchange] {
			return errors.Errorf("follower %s: exchange %q is not supported", f.ID, f.Exchange)
		}
		if err := checkSecrets("follower "+f.ID, f); err != nil {
			return err
		}
		if f.SizeMultiplier.IsNegative() {
			return errors.Errorf("follower %s: size_multiplier must not be negative", f.ID)
		}
		if f.SlippageLimit.IsNegative() {
			return errors.Errorf("follower %s: slippage_limit must not be negative", f.ID)
		}
		if f.Leverage < 0 {
			return errors.Errorf("follower %s: leverage must not be negative", f.ID)
		}
	}
	if c.Barrier != BarrierGlobal && c.Barrier != BarrierPerKey {
		return errors.Errorf("barrier must be %q or %q", BarrierGlobal, BarrierPerKey)
	}
	if c.BackoffMax < c.BackoffMin {
		return errors.New("backoff_max must not be below backoff_min")
	}
	for _, s := range c.Servers {
		if s.Name == "" || s.Host == "" {
			return errors.New("every server needs a name and a host")
		}
	}
	return nil
}

func checkSecrets(who string, a AccountConfig) error {
	var missing []string
	need := func(name, v string) {
		if strings.TrimSpace(v) == "" {
			missing = append(missing, name)
		}
	}
	switch a.Exchange {
	case "blockfin":
		need("key", a.Key)
		need("secret", a.Secret)
		need("passphrase", a.Passphrase)
	case "bitruth":
		need("username", a.Username)
		need("password", a.Password)
		need("client_secret", a.ClientSecret)
	case "binance":
		need("key", a.Key)
		need("secret", a.Secret)
	}
	if len(missing) > 0 {
		return errors.Errorf("%s (%s): missing %s", who, a.Exchange, strings.Join(missing, ", "))
	}
	return nil
}

// FollowerCredentials 所有跟单账户的运行时凭证
func (c *Config) FollowerCredentials() []domain.Credential {
	out := make([]domain.Credential, 0, len(c.Followers))
	for _, f := range c.Followers {
		out = append(out, f.Credential())
	}
	return out
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

func parseDuration(raw string, def time.Duration) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, errors.Errorf("must be positive, got %s", raw)
	}
	return d, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseBoolEnv(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}
