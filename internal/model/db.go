package model

import (
	"time"

	"gorm.io/datatypes"
)

// Entity 被跟踪的命名实体（人物/剧集/事件）。只停用，永不删除
type Entity struct {
	ID         uint64         `gorm:"column:id;primaryKey;autoIncrement;comment:自增主键ID"`
	Name       string         `gorm:"column:name;type:varchar(256);uniqueIndex;not null;comment:规范名称（全局唯一）"`
	Type       EntityType     `gorm:"column:type;type:varchar(32);not null;default:general;comment:实体类型"`
	Aliases    datatypes.JSON `gorm:"column:aliases;type:jsonb;comment:别名列表（规范化后全局唯一）"`
	WikiID     *string        `gorm:"column:wiki_id;type:varchar(128);comment:维基标识"`
	IMDbID     *string        `gorm:"column:imdb_id;type:varchar(32);comment:IMDb标识"`
	Category   string         `gorm:"column:category;type:varchar(64);comment:业务分类"`
	IsActive   bool           `gorm:"column:is_active;type:boolean;default:true;comment:是否参与调度与打分"`
	FirstSeen  time.Time      `gorm:"column:first_seen;type:timestamp;comment:首次观测时间"`
	Provenance datatypes.JSON `gorm:"column:provenance;type:jsonb;comment:发现来源（触发提升的源与时间）"`
	CreatedAt  time.Time      `gorm:"column:created_at;type:timestamp;default:now();comment:创建时间"`
	UpdatedAt  time.Time      `gorm:"column:updated_at;type:timestamp;default:now();comment:更新时间"`
}

// Signal 单条时间序列观测。写入后不可变，按四元组唯一键去重
type Signal struct {
	ID       uint64    `gorm:"column:id;primaryKey;autoIncrement;comment:自增主键ID"`
	EntityID uint64    `gorm:"column:entity_id;type:bigint;not null;index;uniqueIndex:uk_signal_key;comment:关联实体ID"`
	Source   string    `gorm:"column:source;type:varchar(32);not null;uniqueIndex:uk_signal_key;comment:信号源名称"`
	Metric   string    `gorm:"column:metric;type:varchar(32);not null;uniqueIndex:uk_signal_key;comment:指标名"`
	Ts       time.Time `gorm:"column:ts;type:timestamp;not null;index;uniqueIndex:uk_signal_key;comment:观测时间"`
	Value    float64   `gorm:"column:value;type:numeric(18,6);not null;comment:观测值"`
}

// SourceHealth 每源一行的健康状态。仅由健康跟踪服务写入
type SourceHealth struct {
	Source            string     `gorm:"column:source;primaryKey;type:varchar(32);comment:信号源名称"`
	LastOK            *time.Time `gorm:"column:last_ok;type:timestamp;comment:最近成功时间"`
	LastError         *time.Time `gorm:"column:last_error;type:timestamp;comment:最近失败时间"`
	LastAttempt       *time.Time `gorm:"column:last_attempt;type:timestamp;comment:最近尝试时间（节奏计算基准）"`
	ConsecutiveErrors int        `gorm:"column:consecutive_errors;type:int;default:0;comment:连续失败次数"`
	CircuitOpenUntil  *time.Time `gorm:"column:circuit_open_until;type:timestamp;comment:熔断解除时间"`
	UpdatedAt         time.Time  `gorm:"column:updated_at;type:timestamp;default:now();comment:更新时间"`
}

// Score 每轮打分产出的一行分数（append-only，写入后不再修改）
type Score struct {
	ID        uint64    `gorm:"column:id;primaryKey;autoIncrement;comment:自增主键ID"`
	EntityID  uint64    `gorm:"column:entity_id;type:bigint;not null;index:idx_score_entity_ts;comment:关联实体ID"`
	Ts        time.Time `gorm:"column:ts;type:timestamp;not null;index:idx_score_entity_ts;comment:打分时间"`
	VelocityZ float64   `gorm:"column:velocity_z;type:numeric(10,4);comment:速度z分量"`
	Spread    float64   `gorm:"column:spread;type:numeric(10,4);comment:平台覆盖分量"`
	Affect    float64   `gorm:"column:affect;type:numeric(10,4);comment:情感分量"`
	Decay     float64   `gorm:"column:decay;type:numeric(10,4);comment:新鲜度衰减系数"`
	Heat      float64   `gorm:"column:heat;type:numeric(10,4);comment:综合热度"`
	Reasons   string    `gorm:"column:reasons;type:text;comment:可读的分量解释"`
}

// TrendState 每实体一行的门限持续状态。仅由告警状态机写入
type TrendState struct {
	EntityID          uint64         `gorm:"column:entity_id;primaryKey;comment:关联实体ID"`
	State             TrendStateKind `gorm:"column:state;type:varchar(16);default:idle;comment:状态机当前状态"`
	LastGatePassTs    *time.Time     `gorm:"column:last_gate_pass_ts;type:timestamp;comment:最近通过门限时间"`
	ConsecutivePasses int            `gorm:"column:consecutive_passes;type:int;default:0;comment:连续通过次数"`
	LastAlertTs       *time.Time     `gorm:"column:last_alert_ts;type:timestamp;comment:最近告警时间"`
	LastAlertHeat     *float64       `gorm:"column:last_alert_heat;type:numeric(10,4);comment:最近告警时热度"`
	PriorPeakHeat     float64        `gorm:"column:prior_peak_heat;type:numeric(10,4);default:0;comment:历史峰值热度"`
	UpdatedAt         time.Time      `gorm:"column:updated_at;type:timestamp;default:now();comment:更新时间"`
}

// Alert 已发出的告警（不可撤回）。反馈字段由外部异步回填
type Alert struct {
	ID              uint64         `gorm:"column:id;primaryKey;autoIncrement;comment:自增主键ID"`
	AlertUUID       string         `gorm:"column:alert_uuid;type:varchar(64);uniqueIndex;not null;comment:全局唯一ID"`
	EntityID        uint64         `gorm:"column:entity_id;type:bigint;not null;index;comment:关联实体ID"`
	Ts              time.Time      `gorm:"column:ts;type:timestamp;not null;comment:告警时间"`
	Heat            float64        `gorm:"column:heat;type:numeric(10,4);comment:告警时热度"`
	VelocityZ       float64        `gorm:"column:velocity_z;type:numeric(10,4);comment:速度z分量"`
	Spread          float64        `gorm:"column:spread;type:numeric(10,4);comment:平台覆盖分量"`
	Affect          float64        `gorm:"column:affect;type:numeric(10,4);comment:情感分量"`
	Confidence      float64        `gorm:"column:confidence;type:numeric(6,4);comment:门限超出幅度折算的置信度"`
	Reasons         string         `gorm:"column:reasons;type:text;comment:可读的分量解释"`
	Components      datatypes.JSON `gorm:"column:components;type:jsonb;comment:机器可读的分量明细"`
	PreTrade        bool           `gorm:"column:pre_trade;type:boolean;default:false;comment:是否早于行业媒体报道"`
	LeadTimeMinutes *int           `gorm:"column:lead_time_minutes;type:int;comment:告警与行业首报的间隔分钟数（领先时待报道出现后回填）"`
	Useful          *bool          `gorm:"column:useful;type:boolean;comment:人工反馈是否有用（回填）"`
}

// AuditLog 审计日志（append-only），记录每次源成功/失败转换
type AuditLog struct {
	ID     uint64         `gorm:"column:id;primaryKey;autoIncrement;comment:自增主键ID"`
	Ts     time.Time      `gorm:"column:ts;type:timestamp;not null;index;comment:记录时间"`
	Source string         `gorm:"column:source;type:varchar(32);not null;index;comment:信号源名称"`
	Event  string         `gorm:"column:event;type:varchar(64);not null;comment:事件名"`
	Level  string         `gorm:"column:level;type:varchar(16);default:info;comment:级别"`
	Status *int           `gorm:"column:status;type:int;comment:状态码"`
	Extra  datatypes.JSON `gorm:"column:extra;type:jsonb;comment:附加上下文"`
}

func (Entity) TableName() string       { return "entities" }
func (Signal) TableName() string       { return "signals" }
func (SourceHealth) TableName() string { return "source_health" }
func (Score) TableName() string        { return "scores" }
func (TrendState) TableName() string   { return "trend_state" }
func (Alert) TableName() string        { return "alerts" }
func (AuditLog) TableName() string     { return "audit_logs" }
