package models

import (
	"errors"
	"fmt"
	"time"
)

// RawIntervalEvent 监控源上报的一次区间事件（开始时间 + 可能未知的结束时间）
//
// 同一个事件在不同轮询周期会以两个不可变快照出现：先是 EndTime == nil 的开启快照，
// 之后是带结束时间的关闭快照，两者只通过 EventID 关联。
type RawIntervalEvent struct {
	EventID     string     `json:"event_id"`
	SourceID    string     `json:"source_id"`
	StartTime   time.Time  `json:"start_time"`
	EndTime     *time.Time `json:"end_time,omitempty"`
	Duration    float64    `json:"duration_secs"`
	TotalScore  int        `json:"total_score"`
	AvgScore    int        `json:"avg_score"`
	MaxScore    int        `json:"max_score"`
	Frames      int        `json:"frames"`
	AlarmFrames int        `json:"alarm_frames"`
	Notes       string     `json:"notes,omitempty"`
}

// IsOpen 事件是否仍在进行中
func (e *RawIntervalEvent) IsOpen() bool {
	return e.EndTime == nil
}

// Validate 检查必填字段与时间不变量
func (e *RawIntervalEvent) Validate() error {
	if e.EventID == "" {
		return errors.New("event id is empty")
	}
	if e.SourceID == "" {
		return fmt.Errorf("event %s: source id is empty", e.EventID)
	}
	if e.StartTime.IsZero() {
		return fmt.Errorf("event %s: start time is missing", e.EventID)
	}
	if e.EndTime != nil && e.EndTime.Before(e.StartTime) {
		return fmt.Errorf("event %s: end time %s precedes start time %s",
			e.EventID, e.EndTime.Format(time.RFC3339), e.StartTime.Format(time.RFC3339))
	}
	return nil
}

// SourceDescriptor 监控源上的一个物理传感器（摄像头 monitor）
type SourceDescriptor struct {
	SourceID string `json:"source_id"`
	Name     string `json:"name"`
	Function string `json:"function"` // ZoneMinder 的 Function：Modect / Monitor / None ...
	Enabled  bool   `json:"enabled"`
}

// EventBatch 一次拉取得到的事件（按开始时间升序）
//
// Truncated 为 true 表示窗口内还有未读的分页，未读事件的开始时间不早于已读的最后一个事件。
type EventBatch struct {
	Events    []RawIntervalEvent
	Truncated bool
}
