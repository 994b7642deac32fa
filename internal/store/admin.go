package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/metorial/beacon/internal/models"
)

func (db *DB) CreateHost(ctx context.Context, h *models.Host) error {
	_, err := db.exec(ctx, `INSERT INTO hosts (id, name, secret, ip, intro, tags, latitude, longitude,
		country_code, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		h.ID, h.Name, h.Secret, h.IP, h.Intro, h.Tags, h.Latitude, h.Longitude, h.CountryCode,
		h.CreatedAt, h.UpdatedAt)
	if err != nil {
		if db.dialect.uniqueErr(err) {
			return fmt.Errorf("host %s: %w", h.ID, ErrConflict)
		}
		return fmt.Errorf("create host %s: %w", h.ID, err)
	}
	return nil
}

// UpdateHost changes the display name, expected address and descriptors of an existing
// host. Static info reported by the agent is left alone.
func (db *DB) UpdateHost(ctx context.Context, h *models.Host) error {
	res, err := db.exec(ctx, `UPDATE hosts SET name = ?, ip = ?, intro = ?, tags = ?, latitude = ?,
		longitude = ?, country_code = ?, updated_at = ? WHERE id = ?`,
		h.Name, h.IP, h.Intro, h.Tags, h.Latitude, h.Longitude, h.CountryCode, h.UpdatedAt, h.ID)
	if err != nil {
		return fmt.Errorf("update host %s: %w", h.ID, err)
	}
	return expectOne(res, h.ID)
}

// DeleteHost removes a host together with its samples, status and outage history.
func (db *DB) DeleteHost(ctx context.Context, id string) error {
	res, err := db.exec(ctx, `DELETE FROM hosts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete host %s: %w", id, err)
	}
	return expectOne(res, id)
}

func (db *DB) SetSecret(ctx context.Context, id, secret string, now int64) error {
	res, err := db.exec(ctx, `UPDATE hosts SET secret = ?, updated_at = ? WHERE id = ?`, secret, now, id)
	if err != nil {
		return fmt.Errorf("set secret for %s: %w", id, err)
	}
	return expectOne(res, id)
}

func expectOne(res sql.Result, id string) error {
	n, err := affected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("host %s: %w", id, ErrNotFound)
	}
	return nil
}

func (db *DB) Settings(ctx context.Context) (models.Settings, error) {
	rows, err := db.query(ctx, `SELECT name, value FROM settings`)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	defer rows.Close()

	settings := make(models.Settings)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		settings[k] = v
	}
	return settings, rows.Err()
}

func (db *DB) UpdateSettings(ctx context.Context, s models.Settings) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		q := db.dialect.rebind(`INSERT INTO settings (name, value) VALUES (?, ?)
			ON CONFLICT (name) DO UPDATE SET value = excluded.value`)
		for k, v := range s {
			if _, err := tx.ExecContext(ctx, q, k, v); err != nil {
				return fmt.Errorf("update setting %s: %w", k, err)
			}
		}
		return nil
	})
}

const viewQuery = `SELECT ` + hostColumns + `, s.is_online, s.last_checked,
	(SELECT o.start_time FROM outages o WHERE o.host_id = h.id AND o.end_time IS NULL)
	FROM hosts h LEFT JOIN host_status s ON s.host_id = h.id`

func scanView(row scanner, now int64) (models.HostView, error) {
	var (
		v         models.HostView
		online    sql.NullBool
		checked   sql.NullInt64
		openSince sql.NullInt64
	)
	fields := append(hostFields(&v.Host), &online, &checked, &openSince)
	if err := row.Scan(fields...); err != nil {
		return v, err
	}

	v.Online = online.Valid && online.Bool
	if checked.Valid {
		v.LastChecked = &checked.Int64
	}
	if !v.Online && openSince.Valid {
		d := now - openSince.Int64
		v.OfflineFor = &d
	}
	return v, nil
}

func (db *DB) ListHostViews(ctx context.Context, now int64) ([]models.HostView, error) {
	rows, err := db.query(ctx, viewQuery+` ORDER BY h.id`)
	if err != nil {
		return nil, fmt.Errorf("list hosts: %w", err)
	}

	var views []models.HostView
	for rows.Next() {
		v, err := scanView(rows, now)
		if err != nil {
			rows.Close()
			return nil, err
		}
		views = append(views, v)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	// rows must be closed first: the SQLite pool holds a single connection
	for i := range views {
		latest, err := db.latestSample(ctx, views[i].ID)
		if err != nil {
			return nil, fmt.Errorf("latest sample for %s: %w", views[i].ID, err)
		}
		views[i].Latest = latest
	}
	return views, nil
}

func (db *DB) GetHostView(ctx context.Context, id string, now int64) (*models.HostView, error) {
	v, err := scanView(db.queryRow(ctx, viewQuery+` WHERE h.id = ?`, id), now)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get host %s: %w", id, err)
	}

	latest, err := db.latestSample(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("latest sample for %s: %w", id, err)
	}
	v.Latest = latest
	return &v, nil
}

func (db *DB) Stats(ctx context.Context, now int64) (*models.Stats, error) {
	var (
		st                  models.Stats
		online, open        sql.NullInt64
		cores, memory, disk sql.NullInt64
		avgCPU              sql.NullFloat64
	)

	err := db.queryRow(ctx, `SELECT COUNT(*),
		SUM(CASE WHEN s.is_online = TRUE THEN 1 ELSE 0 END),
		SUM(CASE WHEN s.is_online = TRUE THEN h.cpu_cores ELSE 0 END),
		SUM(CASE WHEN s.is_online = TRUE THEN h.mem_total ELSE 0 END),
		SUM(CASE WHEN s.is_online = TRUE THEN h.disk_total ELSE 0 END)
		FROM hosts h LEFT JOIN host_status s ON s.host_id = h.id`).
		Scan(&st.TotalHosts, &online, &cores, &memory, &disk)
	if err != nil {
		return nil, fmt.Errorf("host totals: %w", err)
	}

	if err := db.queryRow(ctx, `SELECT COUNT(*) FROM outages WHERE end_time IS NULL`).Scan(&open); err != nil {
		return nil, fmt.Errorf("open outages: %w", err)
	}

	if err := db.queryRow(ctx, `SELECT AVG(cpu_usage) FROM host_samples WHERE timestamp > ?`, now-300).Scan(&avgCPU); err != nil {
		return nil, fmt.Errorf("average cpu: %w", err)
	}

	st.OnlineHosts = int(online.Int64)
	st.OfflineHosts = st.TotalHosts - st.OnlineHosts
	st.OpenOutages = int(open.Int64)
	st.TotalCores = cores.Int64
	st.TotalMemory = memory.Int64
	st.TotalDisk = disk.Int64
	st.AvgCPUUsage = avgCPU.Float64
	return &st, nil
}
