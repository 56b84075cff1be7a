package models

import (
	"fmt"
	"time"
)

// SourceState 单个传感器的逻辑状态
type SourceState string

const (
	StateActive SourceState = "active"
	StateIdle   SourceState = "idle"
)

// CorrelationRole 读数在一次事件中的角色，用于下游把 start 与 end 配对
type CorrelationRole string

const (
	CorrelationNone  CorrelationRole = ""
	CorrelationStart CorrelationRole = "start"
	CorrelationEnd   CorrelationRole = "end"
)

// 读数详情字段名
const (
	DetailEventID     = "event_id"
	DetailStartTime   = "start_time"
	DetailEndTime     = "end_time"
	DetailNotes       = "notes"
	DetailDuration    = "duration_secs"
	DetailTotalScore  = "total_score"
	DetailAvgScore    = "avg_score"
	DetailMaxScore    = "max_score"
	DetailFrames      = "frames"
	DetailAlarmFrames = "alarm_frames"
)

// AggregatedSourceState 一个传感器在一个轮询周期内的聚合状态（不持久化）
type AggregatedSourceState struct {
	SourceID     string
	State        SourceState
	Timestamp    time.Time
	Canonical    *RawIntervalEvent  // 用于详情的代表事件；无事件时为 nil
	Contributing []RawIntervalEvent // 本周期参与聚合的全部事件
}

// IsSynthetic 是否为"无事件"合成状态
func (s *AggregatedSourceState) IsSynthetic() bool {
	return s.Canonical == nil
}

// SensorReading 传感器读数，创建后不可修改
type SensorReading struct {
	SensorKey       string            `json:"sensor_key"`
	Value           string            `json:"value"`
	Timestamp       time.Time         `json:"timestamp"`
	Details         map[string]string `json:"details,omitempty"`
	HasEvidence     bool              `json:"has_evidence"`
	CorrelationRole CorrelationRole   `json:"correlation_role,omitempty"`
	CorrelationID   string            `json:"correlation_id,omitempty"`
}

// SensorKey 由集成 ID 与监控源 ID 组成的传感器键
func SensorKey(integrationID, sourceID string) string {
	return fmt.Sprintf("%s.%s.motion", integrationID, sourceID)
}
