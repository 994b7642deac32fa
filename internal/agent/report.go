// Package agent samples the local host and reports to the collector on a fixed
// interval.
package agent

import (
	jsoniter "github.com/json-iterator/go"
	"google.golang.org/protobuf/types/known/structpb"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Report is one heartbeat. Metric fields are nil when the platform could not
// provide them.
type Report struct {
	HostID string `json:"host_id"`
	Secret string `json:"secret"`

	CPUUsage         *float64 `json:"cpu_usage,omitempty"`
	MemUsagePercent  *float64 `json:"mem_usage_percent,omitempty"`
	DiskUsagePercent *float64 `json:"disk_usage_percent,omitempty"`
	Uptime           *int64   `json:"uptime,omitempty"`
	LoadAvg          *float64 `json:"load_avg,omitempty"`
	NetUpSpeed       *int64   `json:"net_up_speed,omitempty"`
	NetDownSpeed     *int64   `json:"net_down_speed,omitempty"`
	TotalUp          *int64   `json:"total_up,omitempty"`
	TotalDown        *int64   `json:"total_down,omitempty"`
	Processes        *int64   `json:"processes,omitempty"`
	Connections      *int64   `json:"connections,omitempty"`

	StaticInfo *StaticInfo `json:"static_info,omitempty"`
}

type StaticInfo struct {
	CPUCores       *int64  `json:"cpu_cores,omitempty"`
	CPUModel       *string `json:"cpu_model,omitempty"`
	MemTotalBytes  *int64  `json:"mem_total_bytes,omitempty"`
	DiskTotalBytes *int64  `json:"disk_total_bytes,omitempty"`
	System         *string `json:"system,omitempty"`
	Arch           *string `json:"arch,omitempty"`
}

// Struct converts the report into the generic form carried over gRPC.
func (r *Report) Struct() (*structpb.Struct, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return structpb.NewStruct(m)
}
