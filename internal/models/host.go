package models

import (
	"database/sql/driver"
	"fmt"
	"strings"
)

type Host struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Secret    string `json:"-"`
	IP        string `json:"ip,omitempty"`
	CreatedAt int64  `json:"created_at"`
	UpdatedAt int64  `json:"updated_at"`
	Descriptors
	StaticInfo
}

// Descriptors are operator-maintained details shown on dashboards. Latitude and
// longitude are plain map coordinates and are not range checked.
type Descriptors struct {
	Intro       string   `json:"intro,omitempty"`
	Tags        Tags     `json:"tags,omitempty"`
	Latitude    *float64 `json:"latitude,omitempty"`
	Longitude   *float64 `json:"longitude,omitempty"`
	CountryCode string   `json:"country_code,omitempty"`
}

// Tags is stored as one comma-separated column.
type Tags []string

// ParseTags splits a comma-separated list, trimming entries and dropping empty ones.
func ParseTags(s string) Tags {
	var tags Tags
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}

func (t Tags) Value() (driver.Value, error) {
	return strings.Join(t, ","), nil
}

func (t *Tags) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*t = nil
	case string:
		*t = ParseTags(v)
	case []byte:
		*t = ParseTags(string(v))
	default:
		return fmt.Errorf("tags: unsupported type %T", src)
	}
	return nil
}

// StaticInfo holds hardware descriptors an agent sends alongside its first report.
type StaticInfo struct {
	CPUCores       *int64  `json:"cpu_cores,omitempty"`
	CPUModel       *string `json:"cpu_model,omitempty"`
	MemTotalBytes  *int64  `json:"mem_total_bytes,omitempty"`
	DiskTotalBytes *int64  `json:"disk_total_bytes,omitempty"`
	System         *string `json:"system,omitempty"`
	Arch           *string `json:"arch,omitempty"`
}

// Sample is one accepted report. Nil fields were absent in the report and are stored as NULL.
type Sample struct {
	ID               int64    `json:"id"`
	HostID           string   `json:"host_id"`
	Timestamp        int64    `json:"timestamp"`
	CPUUsage         *float64 `json:"cpu_usage"`
	MemUsagePercent  *float64 `json:"mem_usage_percent"`
	DiskUsagePercent *float64 `json:"disk_usage_percent"`
	Uptime           *int64   `json:"uptime"`
	LoadAvg          *float64 `json:"load_avg"`
	NetUpSpeed       *int64   `json:"net_up_speed"`
	NetDownSpeed     *int64   `json:"net_down_speed"`
	TotalUp          *int64   `json:"total_up"`
	TotalDown        *int64   `json:"total_down"`
	Processes        *int64   `json:"processes"`
	Connections      *int64   `json:"connections"`
}

type Outage struct {
	ID        int64  `json:"id"`
	HostID    string `json:"host_id"`
	StartTime int64  `json:"start_time"`
	EndTime   *int64 `json:"end_time"`
	Title     string `json:"title"`
	Content   string `json:"content"`
}

func (o *Outage) Open() bool {
	return o.EndTime == nil
}

// HostState is the reconciliation input for one host: its online flag (nil when the
// host never reported) and whether an outage is currently open.
type HostState struct {
	HostID     string
	Name       string
	IsOnline   *bool
	OutageOpen bool
}

// HostView is the read-only projection served by the query API.
type HostView struct {
	Host
	Online      bool    `json:"online"`
	LastChecked *int64  `json:"last_checked"`
	OfflineFor  *int64  `json:"offline_for,omitempty"`
	Latest      *Sample `json:"latest,omitempty"`
}

type Stats struct {
	TotalHosts   int     `json:"total_hosts"`
	OnlineHosts  int     `json:"online_hosts"`
	OfflineHosts int     `json:"offline_hosts"`
	OpenOutages  int     `json:"open_outages"`
	TotalCores   int64   `json:"total_cpu_cores"`
	TotalMemory  int64   `json:"total_memory_bytes"`
	TotalDisk    int64   `json:"total_disk_bytes"`
	AvgCPUUsage  float64 `json:"avg_cpu_usage"`
}
