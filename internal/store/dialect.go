package store

import (
	"errors"
	"strconv"
	"strings"

	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type dialect struct {
	name       string
	schema     string
	numbered   bool
	upsertStat string
	uniqueErr  func(error) bool
}

var sqliteDialect = dialect{
	name: DriverSQLite,
	schema: `
	CREATE TABLE IF NOT EXISTS hosts (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		secret TEXT NOT NULL,
		ip TEXT NOT NULL DEFAULT '',
		intro TEXT NOT NULL DEFAULT '',
		tags TEXT NOT NULL DEFAULT '',
		latitude REAL,
		longitude REAL,
		country_code TEXT NOT NULL DEFAULT '',
		cpu_cores INTEGER,
		cpu_model TEXT,
		mem_total INTEGER,
		disk_total INTEGER,
		system_info TEXT,
		arch TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS host_samples (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		host_id TEXT NOT NULL,
		timestamp INTEGER NOT NULL,
		cpu_usage REAL,
		mem_usage_percent REAL,
		disk_usage_percent REAL,
		uptime INTEGER,
		load_avg REAL,
		net_up_speed INTEGER,
		net_down_speed INTEGER,
		total_up INTEGER,
		total_down INTEGER,
		processes INTEGER,
		connections INTEGER,
		FOREIGN KEY (host_id) REFERENCES hosts(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_host_samples_host_ts ON host_samples(host_id, timestamp);

	CREATE TABLE IF NOT EXISTS host_status (
		host_id TEXT PRIMARY KEY,
		is_online BOOLEAN NOT NULL,
		last_checked INTEGER NOT NULL,
		FOREIGN KEY (host_id) REFERENCES hosts(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS outages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		host_id TEXT NOT NULL,
		start_time INTEGER NOT NULL,
		end_time INTEGER,
		title TEXT NOT NULL,
		content TEXT NOT NULL,
		FOREIGN KEY (host_id) REFERENCES hosts(id) ON DELETE CASCADE
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_outages_open ON outages(host_id) WHERE end_time IS NULL;
	CREATE INDEX IF NOT EXISTS idx_outages_host_start ON outages(host_id, start_time);

	CREATE TABLE IF NOT EXISTS settings (
		name TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`,
	upsertStat: `INSERT INTO host_status (host_id, is_online, last_checked) VALUES (?, TRUE, ?)
	ON CONFLICT(host_id) DO UPDATE SET
		is_online = TRUE,
		last_checked = MAX(host_status.last_checked, excluded.last_checked)`,
	uniqueErr: func(err error) bool {
		var se *sqlite.Error
		if !errors.As(err, &se) {
			return false
		}
		code := se.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY || code == sqlite3.SQLITE_CONSTRAINT_UNIQUE
	},
}

var postgresDialect = dialect{
	name:     DriverPostgres,
	numbered: true,
	schema: `
	CREATE TABLE IF NOT EXISTS hosts (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		secret TEXT NOT NULL,
		ip TEXT NOT NULL DEFAULT '',
		intro TEXT NOT NULL DEFAULT '',
		tags TEXT NOT NULL DEFAULT '',
		latitude DOUBLE PRECISION,
		longitude DOUBLE PRECISION,
		country_code TEXT NOT NULL DEFAULT '',
		cpu_cores BIGINT,
		cpu_model TEXT,
		mem_total BIGINT,
		disk_total BIGINT,
		system_info TEXT,
		arch TEXT,
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS host_samples (
		id BIGSERIAL PRIMARY KEY,
		host_id TEXT NOT NULL REFERENCES hosts(id) ON DELETE CASCADE,
		timestamp BIGINT NOT NULL,
		cpu_usage DOUBLE PRECISION,
		mem_usage_percent DOUBLE PRECISION,
		disk_usage_percent DOUBLE PRECISION,
		uptime BIGINT,
		load_avg DOUBLE PRECISION,
		net_up_speed BIGINT,
		net_down_speed BIGINT,
		total_up BIGINT,
		total_down BIGINT,
		processes BIGINT,
		connections BIGINT
	);

	CREATE INDEX IF NOT EXISTS idx_host_samples_host_ts ON host_samples(host_id, timestamp);

	CREATE TABLE IF NOT EXISTS host_status (
		host_id TEXT PRIMARY KEY REFERENCES hosts(id) ON DELETE CASCADE,
		is_online BOOLEAN NOT NULL,
		last_checked BIGINT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS outages (
		id BIGSERIAL PRIMARY KEY,
		host_id TEXT NOT NULL REFERENCES hosts(id) ON DELETE CASCADE,
		start_time BIGINT NOT NULL,
		end_time BIGINT,
		title TEXT NOT NULL,
		content TEXT NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_outages_open ON outages(host_id) WHERE end_time IS NULL;
	CREATE INDEX IF NOT EXISTS idx_outages_host_start ON outages(host_id, start_time);

	CREATE TABLE IF NOT EXISTS settings (
		name TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`,
	upsertStat: `INSERT INTO host_status (host_id, is_online, last_checked) VALUES (?, TRUE, ?)
	ON CONFLICT (host_id) DO UPDATE SET
		is_online = TRUE,
		last_checked = GREATEST(host_status.last_checked, EXCLUDED.last_checked)`,
	uniqueErr: func(err error) bool {
		var pe *pq.Error
		return errors.As(err, &pe) && pe.Code == "23505"
	},
}

func dialectFor(driver string) (dialect, bool) {
	switch driver {
	case DriverSQLite:
		return sqliteDialect, true
	case DriverPostgres:
		return postgresDialect, true
	}
	return dialect{}, false
}

// rebind rewrites ? placeholders into $n for dialects that number them.
func (d dialect) rebind(query string) string {
	if !d.numbered {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}
