package cli

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"
)

func FormatJSON(w io.Writer, data any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

func FormatHostsTable(out io.Writer, data map[string]any) error {
	hosts, ok := data["hosts"].([]any)
	if !ok {
		return fmt.Errorf("invalid hosts data")
	}

	if site := getString(data["site_name"]); site != "" {
		fmt.Fprintf(out, "%s\n\n", site)
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSTATUS\tCPU %\tMEM %\tDISK %\tLAST REPORT")

	for _, h := range hosts {
		host, _ := h.(map[string]any)
		latest, _ := host["latest"].(map[string]any)

		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			getString(host["id"]),
			getString(host["name"]),
			formatStatus(host),
			formatFloat(latest["cpu_usage"]),
			formatFloat(latest["mem_usage_percent"]),
			formatFloat(latest["disk_usage_percent"]),
			formatTime(host["last_checked"]),
		)
	}

	return w.Flush()
}

func FormatHostDetailTable(out io.Writer, data map[string]any) error {
	host, ok := data["host"].(map[string]any)
	if !ok {
		return fmt.Errorf("invalid host data")
	}

	fmt.Fprintf(out, "Host: %s (%s)\n", getString(host["name"]), getString(host["id"]))
	if ip := getString(host["ip"]); ip != "" {
		fmt.Fprintf(out, "Pinned IP: %s\n", ip)
	}
	if cc := getString(host["country_code"]); cc != "" {
		fmt.Fprintf(out, "Country: %s\n", cc)
	}
	if tags, _ := host["tags"].([]any); len(tags) > 0 {
		names := make([]string, 0, len(tags))
		for _, t := range tags {
			names = append(names, getString(t))
		}
		fmt.Fprintf(out, "Tags: %s\n", strings.Join(names, ", "))
	}
	if intro := getString(host["intro"]); intro != "" {
		fmt.Fprintf(out, "Intro: %s\n", intro)
	}
	fmt.Fprintf(out, "Status: %s\n", formatStatus(host))
	fmt.Fprintf(out, "System: %s %s\n", getString(host["system"]), getString(host["arch"]))
	fmt.Fprintf(out, "CPU: %s cores %s\n", formatNumber(host["cpu_cores"]), getString(host["cpu_model"]))
	fmt.Fprintf(out, "Total Memory: %s\n", formatBytes(host["mem_total_bytes"]))
	fmt.Fprintf(out, "Total Disk: %s\n", formatBytes(host["disk_total_bytes"]))
	fmt.Fprintf(out, "Last Report: %s\n", formatTime(host["last_checked"]))
	fmt.Fprintln(out)

	samples, _ := data["samples"].([]any)
	if len(samples) == 0 {
		fmt.Fprintln(out, "No samples available")
	} else {
		fmt.Fprintf(out, "Recent Samples (%d records):\n\n", len(samples))

		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "TIMESTAMP\tCPU %\tMEM %\tDISK %\tLOAD\tUPTIME\tNET UP/s\tNET DOWN/s")
		for _, s := range samples {
			record, _ := s.(map[string]any)
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
				formatTime(record["timestamp"]),
				formatFloat(record["cpu_usage"]),
				formatFloat(record["mem_usage_percent"]),
				formatFloat(record["disk_usage_percent"]),
				formatFloat(record["load_avg"]),
				formatUptime(record["uptime"]),
				formatBytes(record["net_up_speed"]),
				formatBytes(record["net_down_speed"]),
			)
		}
		if err := w.Flush(); err != nil {
			return err
		}
	}

	if outages, _ := data["outages"].([]any); len(outages) > 0 {
		fmt.Fprintln(out)
		return FormatOutagesTable(out, data)
	}
	return nil
}

func FormatOutagesTable(out io.Writer, data map[string]any) error {
	outages, ok := data["outages"].([]any)
	if !ok {
		return fmt.Errorf("invalid outages data")
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "HOST\tSTARTED\tENDED\tDURATION\tTITLE")

	for _, o := range outages {
		outage, _ := o.(map[string]any)
		ended, duration := "ongoing", "-"
		if end, ok := outage["end_time"].(float64); ok {
			ended = formatTime(end)
			if start, ok := outage["start_time"].(float64); ok {
				duration = formatUptime(end - start)
			}
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			getString(outage["host_id"]),
			formatTime(outage["start_time"]),
			ended,
			duration,
			getString(outage["title"]),
		)
	}

	return w.Flush()
}

func FormatStatsTable(out io.Writer, data map[string]any) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)

	fmt.Fprintf(w, "Total Hosts:\t%s\n", formatNumber(data["total_hosts"]))
	fmt.Fprintf(w, "Online Hosts:\t%s\n", formatNumber(data["online_hosts"]))
	fmt.Fprintf(w, "Offline Hosts:\t%s\n", formatNumber(data["offline_hosts"]))
	fmt.Fprintf(w, "Open Outages:\t%s\n", formatNumber(data["open_outages"]))
	fmt.Fprintf(w, "Total CPU Cores:\t%s\n", formatNumber(data["total_cpu_cores"]))
	fmt.Fprintf(w, "Total Memory:\t%s\n", formatBytes(data["total_memory_bytes"]))
	fmt.Fprintf(w, "Total Disk:\t%s\n", formatBytes(data["total_disk_bytes"]))
	fmt.Fprintf(w, "Avg CPU Usage:\t%s%%\n", formatFloat(data["avg_cpu_usage"]))

	return w.Flush()
}

// FormatSettings prints key=value pairs in key order.
func FormatSettings(out io.Writer, data map[string]any) error {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(out, "%s=%s\n", k, getString(data[k]))
	}
	return nil
}

func getString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

func formatStatus(host map[string]any) string {
	if online, ok := host["online"].(bool); ok && online {
		return "online"
	}
	if host["last_checked"] == nil {
		return "pending"
	}
	if d, ok := host["offline_for"].(float64); ok {
		return "offline " + formatUptime(d)
	}
	return "offline"
}

func formatNumber(v any) string {
	switch n := v.(type) {
	case float64:
		return strconv.FormatInt(int64(n), 10)
	case int64:
		return strconv.FormatInt(n, 10)
	case int:
		return strconv.Itoa(n)
	default:
		return "0"
	}
}

func formatFloat(v any) string {
	if f, ok := v.(float64); ok {
		return fmt.Sprintf("%.1f", f)
	}
	return "-"
}

func formatBytes(v any) string {
	var bytes float64
	switch n := v.(type) {
	case float64:
		bytes = n
	case int64:
		bytes = float64(n)
	case int:
		bytes = float64(n)
	default:
		return "-"
	}

	units := []string{"B", "KB", "MB", "GB", "TB"}
	i := 0
	for bytes >= 1024 && i < len(units)-1 {
		bytes /= 1024
		i++
	}

	return fmt.Sprintf("%.1f %s", bytes, units[i])
}

// formatTime renders a Unix timestamp in local time.
func formatTime(v any) string {
	if f, ok := v.(float64); ok && f > 0 {
		return time.Unix(int64(f), 0).Format("2006-01-02 15:04:05")
	}
	return "-"
}

func formatUptime(v any) string {
	var seconds int64
	switch n := v.(type) {
	case float64:
		seconds = int64(n)
	case int64:
		seconds = n
	case int:
		seconds = int64(n)
	default:
		return "-"
	}

	days := seconds / 86400
	hours := (seconds % 86400) / 3600
	minutes := (seconds % 3600) / 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, minutes)
	}
	if minutes > 0 {
		return fmt.Sprintf("%dm", minutes)
	}
	return fmt.Sprintf("%ds", seconds)
}
