package config

import (
	"fmt"
	"math"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config 全局配置结构体（完全匹配config.yaml）
type Config struct {
	Server    ServerConfig            `mapstructure:"server"`    // 服务器配置
	Postgres  PostgresConfig          `mapstructure:"postgres"`  // PostgreSQL配置
	Sync      SyncConfig              `mapstructure:"sync"`      // 采集周期调度配置
	Scoring   ScoringConfig           `mapstructure:"scoring"`   // 热度打分配置
	Gates     GateConfig              `mapstructure:"gates"`     // 告警门限配置
	Discovery DiscoveryConfig         `mapstructure:"discovery"` // 实体发现配置
	Breaker   BreakerConfig           `mapstructure:"breaker"`   // 熔断器配置
	Resolver  ResolverConfig          `mapstructure:"resolver"`  // 实体归一配置
	Notify    NotifyConfig            `mapstructure:"notify"`    // 告警推送配置
	Sources   map[string]SourceConfig `mapstructure:"sources"`   // 多信号源独立配置
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Port int    `mapstructure:"port"` // 服务端口
	Mode string `mapstructure:"mode"` // Gin运行模式：debug/release/test
}

// PostgresConfig PostgreSQL数据库配置
type PostgresConfig struct {
	DSN             string        `mapstructure:"dsn"`               // 连接DSN
	MaxOpenConns    int           `mapstructure:"max_open_conns"`    // 最大打开连接数
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`    // 最大空闲连接数
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"` // 连接最大存活时间
}

// SyncConfig 采集周期调度配置
type SyncConfig struct {
	CycleInterval    time.Duration `mapstructure:"cycle_interval"`    // 周期间隔
	FetchTimeout     time.Duration `mapstructure:"fetch_timeout"`     // 单源抓取超时
	FetchConcurrency int           `mapstructure:"fetch_concurrency"` // 抓取并发数
	ScoreConcurrency int           `mapstructure:"score_concurrency"` // 打分并发数
}

// ScoringConfig 热度打分配置（三个权重之和必须为1.0）
type ScoringConfig struct {
	WVelocity         float64 `mapstructure:"w_velocity"`          // 速度分量权重
	WSpread           float64 `mapstructure:"w_spread"`            // 平台覆盖分量权重
	WAffect           float64 `mapstructure:"w_affect"`            // 情感分量权重
	DecayTauHours     float64 `mapstructure:"decay_tau_hours"`     // 新鲜度衰减参数τ（小时）
	VelocityClamp     float64 `mapstructure:"velocity_clamp"`      // 速度z值截断幅度
	ShortWindowHours  int     `mapstructure:"short_window_hours"`  // 短窗口长度（小时）
	BaselineDays      int     `mapstructure:"baseline_days"`       // 基线窗口长度（天）
	AffectVolumeFloor float64 `mapstructure:"affect_volume_floor"` // 情感分量生效的信号量下限
}

// GateConfig 告警门限配置
type GateConfig struct {
	VelocityMin         float64 `mapstructure:"velocity_min"`          // 速度z门限
	SpreadMin           float64 `mapstructure:"spread_min"`            // 平台覆盖门限
	PersistencePolls    int     `mapstructure:"persistence_polls"`     // 连续通过次数要求
	RealertDropFraction float64 `mapstructure:"realert_drop_fraction"` // 再告警前热度需跌破的比例
}

// DiscoveryConfig 实体发现与生命周期配置
type DiscoveryConfig struct {
	MinSourceTypes      int     `mapstructure:"min_source_types"`      // 提升所需最少信号源类型数
	WindowHours         int     `mapstructure:"window_hours"`          // 跨源确认观察窗口（小时）
	VelocityThreshold   float64 `mapstructure:"velocity_threshold"`    // 提升所需速度z门限
	MaxCandidates       int     `mapstructure:"max_candidates"`        // 候选缓冲上限
	RetentionHours      int     `mapstructure:"retention_hours"`       // 候选保留时长（小时）
	InactiveAfterDays   int     `mapstructure:"inactive_after_days"`   // 无信号多久后停用实体
	DeactivateHeatBelow float64 `mapstructure:"deactivate_heat_below"` // 停用实体的近期热度上限
}

// BreakerConfig 熔断器配置
type BreakerConfig struct {
	FailureThreshold int           `mapstructure:"failure_threshold"` // 连续失败阈值
	BaseBackoff      time.Duration `mapstructure:"base_backoff"`      // 退避基数
	MaxBackoff       time.Duration `mapstructure:"max_backoff"`       // 退避上限
}

// ResolverConfig 实体归一配置
type ResolverConfig struct {
	SimilarityThreshold float64 `mapstructure:"similarity_threshold"` // 模糊匹配相似度门限
	AmbiguityBand       float64 `mapstructure:"ambiguity_band"`       // 判定歧义的相似度差值带
}

// NotifyConfig 告警推送配置
type NotifyConfig struct {
	SlackWebhookURL string `mapstructure:"slack_webhook_url"` // Slack Webhook地址（为空则不推送）
}

// SourceConfig 单个信号源的独立配置
type SourceConfig struct {
	Enabled   bool          `mapstructure:"enabled"`    // 是否启用
	Weight    float64       `mapstructure:"weight"`     // 信号量权重
	Cadence   time.Duration `mapstructure:"cadence"`    // 目标抓取节奏
	Tier      int           `mapstructure:"tier"`       // 优先级层：1常驻/2高频/3中频
	BaseURL   string        `mapstructure:"base_url"`   // API基础地址
	Timeout   int           `mapstructure:"timeout"`    // 请求超时（秒）
	AuthToken string        `mapstructure:"auth_token"` // 认证Token
	Proxy     string        `mapstructure:"proxy"`      // 代理地址
}

// LoadConfig 加载配置文件（config/config.yaml），敏感项从 .env 覆盖（不提交 git）
func LoadConfig() (*Config, error) {
	// 1. 加载 .env（若存在），env 中的值会覆盖 config.yaml 中同名字段
	_ = godotenv.Load() // 忽略错误（.env 可不存在）

	// 2. 读取 config.yaml
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./config")
	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	viper.SetTypeByDefaultValue(true)
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	// 3. 敏感字段：用 env 覆盖（优先级 env > yaml）
	overrideFromEnv(&cfg)

	// 4. 校验并补参考默认值
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// overrideFromEnv 用环境变量覆盖敏感配置
func overrideFromEnv(cfg *Config) {
	if v := os.Getenv("POSTGRES_DSN"); v != "" {
		cfg.Postgres.DSN = v
	}
	if v := os.Getenv("SLACK_WEBHOOK_URL"); v != "" {
		cfg.Notify.SlackWebhookURL = v
	}
	if r, ok := cfg.Sources["reddit"]; ok {
		if v := os.Getenv("REDDIT_AUTH_TOKEN"); v != "" {
			r.AuthToken = v
		}
		if v := os.Getenv("REDDIT_PROXY"); v != "" {
			r.Proxy = v
		}
		cfg.Sources["reddit"] = r
	}
}

// Validate 校验配置并补默认值。门限和权重都是可调项，不在代码里硬编码
func (c *Config) Validate() error {
	if c.Scoring.WVelocity == 0 && c.Scoring.WSpread == 0 && c.Scoring.WAffect == 0 {
		c.Scoring.WVelocity, c.Scoring.WSpread, c.Scoring.WAffect = 0.5, 0.3, 0.2
	}
	sum := c.Scoring.WVelocity + c.Scoring.WSpread + c.Scoring.WAffect
	if math.Abs(sum-1.0) > 1e-6 {
		return fmt.Errorf("打分权重之和必须为1.0，当前为%.4f", sum)
	}
	if c.Scoring.DecayTauHours <= 0 {
		c.Scoring.DecayTauHours = 24
	}
	if c.Scoring.VelocityClamp <= 0 {
		c.Scoring.VelocityClamp = 4.0
	}
	if c.Scoring.ShortWindowHours <= 0 {
		c.Scoring.ShortWindowHours = 12
	}
	if c.Scoring.BaselineDays <= 0 {
		c.Scoring.BaselineDays = 7
	}
	if c.Scoring.AffectVolumeFloor <= 0 {
		c.Scoring.AffectVolumeFloor = 3.0
	}
	if c.Gates.VelocityMin <= 0 {
		c.Gates.VelocityMin = 2.5
	}
	if c.Gates.SpreadMin <= 0 {
		c.Gates.SpreadMin = 2.0 / 3.0
	}
	if c.Gates.PersistencePolls <= 0 {
		c.Gates.PersistencePolls = 2
	}
	if c.Gates.RealertDropFraction <= 0 {
		c.Gates.RealertDropFraction = 0.6
	}
	if c.Discovery.MinSourceTypes <= 0 {
		c.Discovery.MinSourceTypes = 2
	}
	if c.Discovery.WindowHours <= 0 {
		c.Discovery.WindowHours = 12
	}
	if c.Discovery.VelocityThreshold <= 0 {
		c.Discovery.VelocityThreshold = 1.8
	}
	if c.Discovery.MaxCandidates <= 0 {
		c.Discovery.MaxCandidates = 2000
	}
	if c.Discovery.RetentionHours <= 0 {
		c.Discovery.RetentionHours = 24
	}
	if c.Discovery.InactiveAfterDays <= 0 {
		c.Discovery.InactiveAfterDays = 7
	}
	if c.Discovery.DeactivateHeatBelow <= 0 {
		c.Discovery.DeactivateHeatBelow = 0.1
	}
	if c.Breaker.FailureThreshold <= 0 {
		c.Breaker.FailureThreshold = 3
	}
	if c.Breaker.BaseBackoff <= 0 {
		c.Breaker.BaseBackoff = 10 * time.Minute
	}
	if c.Breaker.MaxBackoff <= 0 {
		c.Breaker.MaxBackoff = 4 * time.Hour
	}
	if c.Resolver.SimilarityThreshold <= 0 {
		c.Resolver.SimilarityThreshold = 0.88
	}
	if c.Resolver.AmbiguityBand <= 0 {
		c.Resolver.AmbiguityBand = 0.02
	}
	if c.Sync.CycleInterval <= 0 {
		c.Sync.CycleInterval = 5 * time.Minute
	}
	if c.Sync.FetchTimeout <= 0 {
		c.Sync.FetchTimeout = 30 * time.Second
	}
	if c.Sync.FetchConcurrency <= 0 {
		c.Sync.FetchConcurrency = 4
	}
	if c.Sync.ScoreConcurrency <= 0 {
		c.Sync.ScoreConcurrency = 8
	}
	return nil
}
