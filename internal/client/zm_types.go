package client

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// zmValue ZoneMinder API 的字段有时是字符串，有时是数字，有时是 null
type zmValue string

func (v *zmValue) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*v = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = zmValue(s)
		return nil
	}
	*v = zmValue(data)
	return nil
}

func (v zmValue) String() string { return string(v) }

func (v zmValue) Int() int {
	if v == "" {
		return 0
	}
	if n, err := strconv.Atoi(string(v)); err == nil {
		return n
	}
	f, err := strconv.ParseFloat(string(v), 64)
	if err != nil {
		return 0
	}
	return int(f)
}

func (v zmValue) Float() float64 {
	f, err := strconv.ParseFloat(string(v), 64)
	if err != nil {
		return 0
	}
	return f
}

type zmPagination struct {
	Page      int `json:"page"`
	PageCount int `json:"pageCount"`
	Count     int `json:"count"`
	Limit     int `json:"limit"`
}

type zmEvent struct {
	ID            zmValue `json:"Id"`
	MonitorID     zmValue `json:"MonitorId"`
	StartDateTime zmValue `json:"StartDateTime"`
	EndDateTime   zmValue `json:"EndDateTime"`
	Length        zmValue `json:"Length"`
	Frames        zmValue `json:"Frames"`
	AlarmFrames   zmValue `json:"AlarmFrames"`
	TotScore      zmValue `json:"TotScore"`
	AvgScore      zmValue `json:"AvgScore"`
	MaxScore      zmValue `json:"MaxScore"`
	Notes         zmValue `json:"Notes"`
}

type zmEventsResponse struct {
	Events []struct {
		Event zmEvent `json:"Event"`
	} `json:"events"`
	Pagination zmPagination `json:"pagination"`
}

type zmMonitor struct {
	ID       zmValue `json:"Id"`
	Name     zmValue `json:"Name"`
	Function zmValue `json:"Function"`
	Enabled  zmValue `json:"Enabled"`
}

type zmMonitorsResponse struct {
	Monitors []struct {
		Monitor zmMonitor `json:"Monitor"`
	} `json:"monitors"`
}
