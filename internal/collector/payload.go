package collector

import (
	"math"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/metorial/beacon/internal/models"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// reportPayload is the wire form of a report, shared by the HTTP and gRPC transports.
type reportPayload struct {
	HostID string `json:"host_id"`
	// ServerID is accepted from older agents.
	ServerID string `json:"server_id,omitempty"`
	Secret   string `json:"secret"`

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

	StaticInfo *models.StaticInfo `json:"static_info,omitempty"`
}

// decodeReport parses a JSON report body. Type errors surface as *ValidationError.
func decodeReport(data []byte, sourceAddr string) (*IngestRequest, error) {
	var p reportPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, &ValidationError{Reason: decodeReason(err)}
	}
	return p.request(sourceAddr)
}

// decodeReportMap is decodeReport for payloads already parsed into generic values,
// such as a protobuf Struct.
func decodeReportMap(m map[string]any, sourceAddr string) (*IngestRequest, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, &ValidationError{Reason: "payload is not representable as JSON"}
	}
	return decodeReport(data, sourceAddr)
}

func decodeReason(err error) string {
	msg := err.Error()
	// jsoniter prefixes the Go type path, which means nothing to an agent
	if i := strings.Index(msg, ": "); i >= 0 && strings.Contains(msg[:i], ".") {
		msg = msg[i+2:]
	}
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return msg
}

func (p *reportPayload) request(sourceAddr string) (*IngestRequest, error) {
	hostID := strings.TrimSpace(p.HostID)
	if hostID == "" {
		hostID = strings.TrimSpace(p.ServerID)
	}

	for _, f := range []struct {
		name string
		v    *float64
	}{
		{"cpu_usage", p.CPUUsage},
		{"mem_usage_percent", p.MemUsagePercent},
		{"disk_usage_percent", p.DiskUsagePercent},
		{"load_avg", p.LoadAvg},
	} {
		if f.v != nil && (math.IsNaN(*f.v) || math.IsInf(*f.v, 0)) {
			return nil, &ValidationError{Field: f.name, Reason: "must be a finite number"}
		}
	}

	return &IngestRequest{
		HostID:     hostID,
		Secret:     p.Secret,
		SourceAddr: sourceAddr,
		Sample: models.Sample{
			CPUUsage:         p.CPUUsage,
			MemUsagePercent:  p.MemUsagePercent,
			DiskUsagePercent: p.DiskUsagePercent,
			Uptime:           p.Uptime,
			LoadAvg:          p.LoadAvg,
			NetUpSpeed:       p.NetUpSpeed,
			NetDownSpeed:     p.NetDownSpeed,
			TotalUp:          p.TotalUp,
			TotalDown:        p.TotalDown,
			Processes:        p.Processes,
			Connections:      p.Connections,
		},
		Static: p.StaticInfo,
	}, nil
}
