package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/metorial/beacon/internal/models"
)

const hostColumns = `h.id, h.name, h.secret, h.ip, h.created_at, h.updated_at,
	h.intro, h.tags, h.latitude, h.longitude, h.country_code,
	h.cpu_cores, h.cpu_model, h.mem_total, h.disk_total, h.system_info, h.arch`

const sampleColumns = `id, host_id, timestamp, cpu_usage, mem_usage_percent, disk_usage_percent,
	uptime, load_avg, net_up_speed, net_down_speed, total_up, total_down, processes, connections`

type scanner interface {
	Scan(dest ...any) error
}

func hostFields(h *models.Host) []any {
	return []any{&h.ID, &h.Name, &h.Secret, &h.IP, &h.CreatedAt, &h.UpdatedAt,
		&h.Intro, &h.Tags, &h.Latitude, &h.Longitude, &h.CountryCode,
		&h.CPUCores, &h.CPUModel, &h.MemTotalBytes, &h.DiskTotalBytes, &h.System, &h.Arch}
}

func scanSample(row scanner) (models.Sample, error) {
	var s models.Sample
	err := row.Scan(&s.ID, &s.HostID, &s.Timestamp, &s.CPUUsage, &s.MemUsagePercent,
		&s.DiskUsagePercent, &s.Uptime, &s.LoadAvg, &s.NetUpSpeed, &s.NetDownSpeed,
		&s.TotalUp, &s.TotalDown, &s.Processes, &s.Connections)
	return s, err
}

func (db *DB) GetHost(ctx context.Context, id string) (*models.Host, error) {
	var h models.Host
	err := db.queryRow(ctx, `SELECT `+hostColumns+` FROM hosts h WHERE h.id = ?`, id).Scan(hostFields(&h)...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get host %s: %w", id, err)
	}
	return &h, nil
}

func (db *DB) RecordReport(ctx context.Context, r *Report) error {
	s := &r.Sample
	return db.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, db.dialect.rebind(`INSERT INTO host_samples (host_id, timestamp, cpu_usage,
			mem_usage_percent, disk_usage_percent, uptime, load_avg, net_up_speed, net_down_speed,
			total_up, total_down, processes, connections)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
			s.HostID, s.Timestamp, s.CPUUsage, s.MemUsagePercent, s.DiskUsagePercent, s.Uptime,
			s.LoadAvg, s.NetUpSpeed, s.NetDownSpeed, s.TotalUp, s.TotalDown, s.Processes, s.Connections)
		if err != nil {
			return fmt.Errorf("insert sample: %w", err)
		}

		if info := r.Static; info != nil {
			res, err := tx.ExecContext(ctx, db.dialect.rebind(`UPDATE hosts SET cpu_cores = ?, cpu_model = ?,
				mem_total = ?, disk_total = ?, system_info = ?, arch = ?, updated_at = ? WHERE id = ?`),
				info.CPUCores, info.CPUModel, info.MemTotalBytes, info.DiskTotalBytes, info.System,
				info.Arch, s.Timestamp, s.HostID)
			if err != nil {
				return fmt.Errorf("update static info: %w", err)
			}
			if n, err := affected(res); err != nil {
				return err
			} else if n == 0 {
				return fmt.Errorf("update static info: %w", ErrNotFound)
			}
		}

		if _, err := tx.ExecContext(ctx, db.dialect.rebind(db.dialect.upsertStat), s.HostID, s.Timestamp); err != nil {
			return fmt.Errorf("upsert status: %w", err)
		}
		return nil
	})
}

func (db *DB) RecentSamples(ctx context.Context, hostID string, limit int) ([]models.Sample, error) {
	rows, err := db.query(ctx, `SELECT `+sampleColumns+` FROM host_samples
		WHERE host_id = ? ORDER BY timestamp DESC, id DESC LIMIT ?`, hostID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var samples []models.Sample
	for rows.Next() {
		s, err := scanSample(rows)
		if err != nil {
			return nil, err
		}
		samples = append(samples, s)
	}
	return samples, rows.Err()
}

func (db *DB) latestSample(ctx context.Context, hostID string) (*models.Sample, error) {
	row := db.queryRow(ctx, `SELECT `+sampleColumns+` FROM host_samples
		WHERE host_id = ? ORDER BY timestamp DESC, id DESC LIMIT 1`, hostID)
	s, err := scanSample(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// PruneSamples deletes samples older than before and reports how many were removed.
func (db *DB) PruneSamples(ctx context.Context, before int64) (int64, error) {
	res, err := db.exec(ctx, `DELETE FROM host_samples WHERE timestamp < ?`, before)
	if err != nil {
		return 0, err
	}
	return affected(res)
}
