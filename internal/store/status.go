package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/metorial/beacon/internal/models"
)

const outageColumns = `id, host_id, start_time, end_time, title, content`

func scanOutage(row scanner) (models.Outage, error) {
	var o models.Outage
	err := row.Scan(&o.ID, &o.HostID, &o.StartTime, &o.EndTime, &o.Title, &o.Content)
	return o, err
}

// MarkStale flips every online host whose last report is older than cutoff to offline
// and returns the flipped ids. The staleness check and the write are one statement, so a
// report committed in between keeps its host online.
func (db *DB) MarkStale(ctx context.Context, cutoff int64) ([]string, error) {
	rows, err := db.query(ctx, `UPDATE host_status SET is_online = FALSE
		WHERE is_online = TRUE AND last_checked < ?
		RETURNING host_id`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("mark stale: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

const hostStateQuery = `SELECT h.id, h.name, s.is_online,
	EXISTS (SELECT 1 FROM outages o WHERE o.host_id = h.id AND o.end_time IS NULL)
	FROM hosts h LEFT JOIN host_status s ON s.host_id = h.id`

func scanHostState(row scanner) (models.HostState, error) {
	var (
		st     models.HostState
		online sql.NullBool
	)
	if err := row.Scan(&st.HostID, &st.Name, &online, &st.OutageOpen); err != nil {
		return st, err
	}
	if online.Valid {
		st.IsOnline = &online.Bool
	}
	return st, nil
}

func (db *DB) HostStates(ctx context.Context) ([]models.HostState, error) {
	rows, err := db.query(ctx, hostStateQuery+` ORDER BY h.id`)
	if err != nil {
		return nil, fmt.Errorf("list host states: %w", err)
	}
	defer rows.Close()

	var states []models.HostState
	for rows.Next() {
		st, err := scanHostState(rows)
		if err != nil {
			return nil, err
		}
		states = append(states, st)
	}
	return states, rows.Err()
}

func (db *DB) HostState(ctx context.Context, hostID string) (*models.HostState, error) {
	st, err := scanHostState(db.queryRow(ctx, hostStateQuery+` WHERE h.id = ?`, hostID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get host state %s: %w", hostID, err)
	}
	return &st, nil
}

// OpenOutage inserts o as the open outage of its host if the host is offline and has no
// open outage yet. It reports whether a row was inserted; o.ID is set when it was.
func (db *DB) OpenOutage(ctx context.Context, o *models.Outage) (bool, error) {
	row := db.queryRow(ctx, `INSERT INTO outages (host_id, start_time, title, content)
		SELECT CAST(? AS TEXT), CAST(? AS BIGINT), CAST(? AS TEXT), CAST(? AS TEXT)
		WHERE EXISTS (SELECT 1 FROM host_status WHERE host_id = ? AND is_online = FALSE)
		ON CONFLICT (host_id) WHERE end_time IS NULL DO NOTHING
		RETURNING id`, o.HostID, o.StartTime, o.Title, o.Content, o.HostID)

	var id int64
	err := row.Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		if db.dialect.uniqueErr(err) {
			return false, nil
		}
		return false, fmt.Errorf("open outage for %s: %w", o.HostID, err)
	}
	o.ID = id
	o.EndTime = nil
	return true, nil
}

// CloseOutage ends the open outage of hostID at end, provided the host is online again,
// and returns the closed record. It returns nil when nothing was closed.
func (db *DB) CloseOutage(ctx context.Context, hostID string, end int64) (*models.Outage, error) {
	row := db.queryRow(ctx, `UPDATE outages SET end_time = ?
		WHERE host_id = ? AND end_time IS NULL
		AND EXISTS (SELECT 1 FROM host_status s WHERE s.host_id = outages.host_id AND s.is_online = TRUE)
		RETURNING `+outageColumns, end, hostID)

	o, err := scanOutage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("close outage for %s: %w", hostID, err)
	}
	return &o, nil
}

// Outages lists outage history newest first. An empty hostID lists all hosts.
func (db *DB) Outages(ctx context.Context, hostID string, limit int) ([]models.Outage, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if hostID == "" {
		rows, err = db.query(ctx, `SELECT `+outageColumns+` FROM outages
			ORDER BY start_time DESC, id DESC LIMIT ?`, limit)
	} else {
		rows, err = db.query(ctx, `SELECT `+outageColumns+` FROM outages WHERE host_id = ?
			ORDER BY start_time DESC, id DESC LIMIT ?`, hostID, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var outages []models.Outage
	for rows.Next() {
		o, err := scanOutage(rows)
		if err != nil {
			return nil, err
		}
		outages = append(outages, o)
	}
	return outages, rows.Err()
}
