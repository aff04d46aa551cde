package model

import "time"

// SourceType 信号源类型枚举（平台覆盖分量按类型去重统计）
type SourceType string

const (
	SourceTypeSocial    SourceType = "social"    // 社区讨论（reddit等）
	SourceTypeSearch    SourceType = "search"    // 搜索热度（trends等）
	SourceTypeReference SourceType = "reference" // 百科查阅（wikipedia等）
	SourceTypePress     SourceType = "press"     // 行业新闻（gdelt/tradepress等）
	SourceTypeVideo     SourceType = "video"     // 视频平台（预留）
)

// EntityType 实体类型枚举
type EntityType string

const (
	EntityTypePerson  EntityType = "person"
	EntityTypeShow    EntityType = "show"
	EntityTypeEvent   EntityType = "event"
	EntityTypeGeneral EntityType = "general"
)

// RawSignal 适配器抓取的原始观测（入库前尚未归一到实体）
type RawSignal struct {
	EntityName string     // 源侧原始名称
	Source     string     // 信号源名称
	SourceType SourceType // 信号源类型
	Metric     string     // 指标名
	Ts         time.Time  // 观测时间
	Value      float64    // 观测值
}

// TrendStateKind 告警状态机的状态枚举
type TrendStateKind string

const (
	TrendIdle    TrendStateKind = "idle"    // 未通过门限
	TrendPassing TrendStateKind = "passing" // 当前轮通过门限，持续计数中
	TrendAlerted TrendStateKind = "alerted" // 已告警，冷却中
)
