package metrics

import (
	"database/sql"

	"codeberg.org/mutker/ipmifanctl/internal/errors"
	"codeberg.org/mutker/ipmifanctl/internal/logger"
)

const (
	SchemaVersion = 1

	createTablesSQL = `
	   CREATE TABLE IF NOT EXISTS schema_versions (
	       version     INTEGER PRIMARY KEY,
	       applied_at  TEXT NOT NULL
	   );
	   CREATE TABLE IF NOT EXISTS cycles (
	       id         INTEGER PRIMARY KEY AUTOINCREMENT,
	       timestamp  INTEGER NOT NULL CHECK (typeof(timestamp) = 'integer'),
	       mode       TEXT NOT NULL CHECK (mode IN ('warning', 'critical')),
	       min_speed  INTEGER NOT NULL CHECK (min_speed BETWEEN 0 AND 100)
	   );
	   CREATE INDEX IF NOT EXISTS cycles_timestamp ON cycles (timestamp);
	   CREATE TABLE IF NOT EXISTS sensor_readings (
	       cycle_id   INTEGER NOT NULL REFERENCES cycles (id) ON DELETE CASCADE,
	       sensor     INTEGER NOT NULL,
	       current    REAL NOT NULL,
	       threshold  REAL NOT NULL,
	       override   INTEGER NOT NULL CHECK (override IN (0, 1)),
	       PRIMARY KEY (cycle_id, sensor)
	   );
	   CREATE TABLE IF NOT EXISTS fan_speeds (
	       cycle_id   INTEGER NOT NULL REFERENCES cycles (id) ON DELETE CASCADE,
	       fan        INTEGER NOT NULL,
	       speed      INTEGER NOT NULL CHECK (speed BETWEEN 0 AND 100),
	       PRIMARY KEY (cycle_id, fan)
	   );`

	insertCycleSQL = `
    INSERT INTO cycles (timestamp, mode, min_speed) VALUES (?, ?, ?)`

	insertSensorSQL = `
    INSERT INTO sensor_readings (cycle_id, sensor, current, threshold, override)
    VALUES (?, ?, ?, ?, ?)`

	insertFanSQL = `
    INSERT INTO fan_speeds (cycle_id, fan, speed) VALUES (?, ?, ?)`
)

var schemaTables = []string{"fan_speeds", "sensor_readings", "cycles", "schema_versions"}

// InitSchema creates a new database schema with the current version
func InitSchema(db *sql.DB, log logger.Logger) error {
	errFactory := errors.New()

	log.Debug().Msg("Creating database...")

	tx, err := db.Begin()
	if err != nil {
		return errFactory.Wrap(ErrSchemaInitFailed, err)
	}

	committed := false
	defer func() {
		if !committed {
			if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
				log.Debug().Err(err).Msg("Failed to rollback transaction")
			}
		}
	}()

	if _, err := tx.Exec(createTablesSQL); err != nil {
		return errFactory.WithData(ErrSchemaInitFailed, struct {
			Error string
			Phase string
		}{
			Error: err.Error(),
			Phase: "create_tables",
		})
	}

	if _, err := tx.Exec(`
        INSERT INTO schema_versions (version, applied_at)
        VALUES (?, datetime('now'))
    `, SchemaVersion); err != nil {
		return errFactory.WithData(ErrSchemaInitFailed, struct {
			Error string
			Phase string
		}{
			Error: err.Error(),
			Phase: "record_version",
		})
	}

	if err := tx.Commit(); err != nil {
		return errFactory.Wrap(ErrSchemaInitFailed, err)
	}
	committed = true

	log.Info().
		Int("version", SchemaVersion).
		Msg("Schema initialized successfully")

	return nil
}

// GetSchemaVersion returns the current schema version, or 0 for an empty
// database.
func GetSchemaVersion(db *sql.DB) (int, error) {
	errFactory := errors.New()

	exists, err := TableExists(db, "schema_versions")
	if err != nil {
		return 0, errFactory.Wrap(ErrSchemaValidationFailed, err)
	}
	if !exists {
		return 0, nil
	}

	var version int
	err = db.QueryRow(`
        SELECT version
        FROM schema_versions
        ORDER BY version DESC
        LIMIT 1
    `).Scan(&version)

	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, errFactory.WithData(ErrSchemaValidationFailed, struct {
			Phase string
			Error string
		}{
			Phase: "get_version",
			Error: err.Error(),
		})
	}

	return version, nil
}

func TableExists(db *sql.DB, tableName string) (bool, error) {
	errFactory := errors.New()
	var exists bool
	err := db.QueryRow(`
        SELECT EXISTS (
            SELECT 1 FROM sqlite_master
            WHERE type='table' AND name=?
        )
    `, tableName).Scan(&exists)
	if err != nil {
		return false, errFactory.WithData(ErrSchemaValidationFailed, struct {
			Phase string
			Table string
			Error string
		}{
			Phase: "check_table_exists",
			Table: tableName,
			Error: err.Error(),
		})
	}
	return exists, nil
}
