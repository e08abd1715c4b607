package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/osha-insights/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL
// mode and foreign-key enforcement.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS regions (
	state_code TEXT PRIMARY KEY CHECK (length(state_code) = 2),
	state_name TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS sectors (
	naics_code   TEXT PRIMARY KEY,
	sector_name  TEXT,
	sector_clean TEXT,
	sector_macro TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS incidents (
	incident_id            INTEGER PRIMARY KEY AUTOINCREMENT,
	year                   INTEGER NOT NULL,
	state_code             TEXT NOT NULL REFERENCES regions(state_code) ON DELETE RESTRICT,
	naics_code             TEXT NOT NULL REFERENCES sectors(naics_code) ON DELETE RESTRICT,
	employees              INTEGER,
	hoursworked            INTEGER,
	injuries               INTEGER NOT NULL DEFAULT 0 CHECK (injuries >= 0),
	fatalities             INTEGER NOT NULL DEFAULT 0 CHECK (fatalities >= 0),
	daysawayfromwork       INTEGER NOT NULL DEFAULT 0 CHECK (daysawayfromwork >= 0),
	jobtransferrestriction INTEGER NOT NULL DEFAULT 0 CHECK (jobtransferrestriction >= 0),
	othercases             INTEGER NOT NULL DEFAULT 0 CHECK (othercases >= 0)
);

CREATE TABLE IF NOT EXISTS load_runs (
	id           TEXT PRIMARY KEY,
	source       TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'running',
	rows_loaded  INTEGER NOT NULL DEFAULT 0,
	error        TEXT,
	started_at   DATETIME NOT NULL DEFAULT (datetime('now')),
	completed_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_incidents_year ON incidents(year);
CREATE INDEX IF NOT EXISTS idx_incidents_state ON incidents(state_code);
CREATE INDEX IF NOT EXISTS idx_incidents_naics ON incidents(naics_code);
CREATE INDEX IF NOT EXISTS idx_load_runs_started ON load_runs(started_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) GetRegion(ctx context.Context, stateCode string) (*model.Region, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT state_code, state_name FROM regions WHERE state_code = ?`, stateCode)

	var r model.Region
	err := row.Scan(&r.StateCode, &r.StateName)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get region")
	}
	return &r, nil
}

func (s *SQLiteStore) GetSector(ctx context.Context, naicsCode string) (*model.Sector, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT naics_code, sector_name, sector_clean, sector_macro FROM sectors WHERE naics_code = ?`, naicsCode)

	var sec model.Sector
	err := row.Scan(&sec.NAICSCode, &sec.SectorName, &sec.SectorClean, &sec.SectorMacro)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get sector")
	}
	return &sec, nil
}

func (s *SQLiteStore) ListRegions(ctx context.Context) ([]model.Region, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT state_code, state_name FROM regions ORDER BY state_code`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list regions")
	}
	defer rows.Close()

	var regions []model.Region
	for rows.Next() {
		var r model.Region
		if err := rows.Scan(&r.StateCode, &r.StateName); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan region")
		}
		regions = append(regions, r)
	}
	return regions, eris.Wrap(rows.Err(), "sqlite: list regions iterate")
}

func (s *SQLiteStore) ListSectors(ctx context.Context) ([]model.Sector, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT naics_code, sector_name, sector_clean, sector_macro FROM sectors ORDER BY naics_code`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list sectors")
	}
	defer rows.Close()

	var sectors []model.Sector
	for rows.Next() {
		var sec model.Sector
		if err := rows.Scan(&sec.NAICSCode, &sec.SectorName, &sec.SectorClean, &sec.SectorMacro); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan sector")
		}
		sectors = append(sectors, sec)
	}
	return sectors, eris.Wrap(rows.Err(), "sqlite: list sectors iterate")
}

// LoadRegions inserts a batch of regions inside one transaction. A repeated
// state code, in the batch or already stored, fails the whole batch with
// DuplicateKeyError.
func (s *SQLiteStore) LoadRegions(ctx context.Context, regions []model.Region) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin load regions")
	}
	defer tx.Rollback() //nolint:errcheck

	seen := make(map[string]bool, len(regions))
	for _, r := range regions {
		if err := validateRegion(r); err != nil {
			return 0, err
		}
		if seen[r.StateCode] {
			return 0, &DuplicateKeyError{Table: "regions", Key: r.StateCode}
		}
		seen[r.StateCode] = true

		var exists bool
		if err := tx.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM regions WHERE state_code = ?)`, r.StateCode,
		).Scan(&exists); err != nil {
			return 0, eris.Wrap(err, "sqlite: check region exists")
		}
		if exists {
			return 0, &DuplicateKeyError{Table: "regions", Key: r.StateCode}
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO regions (state_code, state_name) VALUES (?, ?)`,
			r.StateCode, r.StateName,
		); err != nil {
			return 0, eris.Wrapf(err, "sqlite: insert region %s", r.StateCode)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit load regions")
	}
	return int64(len(regions)), nil
}

// LoadSectors inserts a batch of sectors with the same duplicate semantics
// as LoadRegions.
func (s *SQLiteStore) LoadSectors(ctx context.Context, sectors []model.Sector) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin load sectors")
	}
	defer tx.Rollback() //nolint:errcheck

	seen := make(map[string]bool, len(sectors))
	for _, sec := range sectors {
		if err := validateSector(sec); err != nil {
			return 0, err
		}
		if seen[sec.NAICSCode] {
			return 0, &DuplicateKeyError{Table: "sectors", Key: sec.NAICSCode}
		}
		seen[sec.NAICSCode] = true

		var exists bool
		if err := tx.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM sectors WHERE naics_code = ?)`, sec.NAICSCode,
		).Scan(&exists); err != nil {
			return 0, eris.Wrap(err, "sqlite: check sector exists")
		}
		if exists {
			return 0, &DuplicateKeyError{Table: "sectors", Key: sec.NAICSCode}
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO sectors (naics_code, sector_name, sector_clean, sector_macro) VALUES (?, ?, ?, ?)`,
			sec.NAICSCode, sec.SectorName, sec.SectorClean, sec.SectorMacro,
		); err != nil {
			return 0, eris.Wrapf(err, "sqlite: insert sector %s", sec.NAICSCode)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit load sectors")
	}
	return int64(len(sectors)), nil
}

// DeleteRegion removes a region. The delete is rejected with RestrictError
// while any incident references the state code.
func (s *SQLiteStore) DeleteRegion(ctx context.Context, stateCode string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin delete region")
	}
	defer tx.Rollback() //nolint:errcheck

	var dependents int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM incidents WHERE state_code = ?`, stateCode,
	).Scan(&dependents); err != nil {
		return eris.Wrap(err, "sqlite: count region dependents")
	}
	if dependents > 0 {
		return &RestrictError{Table: "regions", Key: stateCode, Dependents: dependents}
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM regions WHERE state_code = ?`, stateCode)
	if err != nil {
		return eris.Wrapf(err, "sqlite: delete region %s", stateCode)
	}
	if err := checkRowsAffected(res, "region", stateCode); err != nil {
		return err
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit delete region")
}

// DeleteSector removes a sector with the same RESTRICT semantics as
// DeleteRegion.
func (s *SQLiteStore) DeleteSector(ctx context.Context, naicsCode string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin delete sector")
	}
	defer tx.Rollback() //nolint:errcheck

	var dependents int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM incidents WHERE naics_code = ?`, naicsCode,
	).Scan(&dependents); err != nil {
		return eris.Wrap(err, "sqlite: count sector dependents")
	}
	if dependents > 0 {
		return &RestrictError{Table: "sectors", Key: naicsCode, Dependents: dependents}
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM sectors WHERE naics_code = ?`, naicsCode)
	if err != nil {
		return eris.Wrapf(err, "sqlite: delete sector %s", naicsCode)
	}
	if err := checkRowsAffected(res, "sector", naicsCode); err != nil {
		return err
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit delete sector")
}

func (s *SQLiteStore) InsertIncident(ctx context.Context, inc model.Incident) (*model.Incident, error) {
	if err := validateIncident(inc); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: begin insert incident")
	}
	defer tx.Rollback() //nolint:errcheck

	if err := resolveRef(ctx, tx, "regions", "state_code", inc.StateCode); err != nil {
		return nil, err
	}
	if err := resolveRef(ctx, tx, "sectors", "naics_code", inc.NAICSCode); err != nil {
		return nil, err
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO incidents
		(year, state_code, naics_code, employees, hoursworked,
		 injuries, fatalities, daysawayfromwork, jobtransferrestriction, othercases)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		inc.Year, inc.StateCode, inc.NAICSCode,
		nullableInt64(inc.Employees), nullableInt64(inc.HoursWorked),
		inc.Injuries, inc.Fatalities, inc.DaysAwayFromWork,
		inc.JobTransferRestriction, inc.OtherCases,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert incident")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert incident id")
	}

	if err := tx.Commit(); err != nil {
		return nil, eris.Wrap(err, "sqlite: commit insert incident")
	}
	inc.ID = id
	return &inc, nil
}

// resolveRef checks a foreign key against its reference table inside the
// current transaction.
func resolveRef(ctx context.Context, tx *sql.Tx, table, column, value string) error {
	var exists bool
	query := `SELECT EXISTS(SELECT 1 FROM ` + table + ` WHERE ` + column + ` = ?)`
	if err := tx.QueryRowContext(ctx, query, value).Scan(&exists); err != nil {
		return eris.Wrapf(err, "sqlite: resolve %s", column)
	}
	if !exists {
		return &ReferentialIntegrityError{Column: column, Value: value}
	}
	return nil
}

// InsertIncidents inserts a batch atomically: if any row fails validation
// or reference resolution, nothing is written.
func (s *SQLiteStore) InsertIncidents(ctx context.Context, incs []model.Incident) (int64, error) {
	return s.insertIncidents(ctx, incs)
}

func (s *SQLiteStore) insertIncidents(ctx context.Context, incs []model.Incident) (int64, error) {
	if len(incs) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin insert incidents")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO incidents
		(year, state_code, naics_code, employees, hoursworked,
		 injuries, fatalities, daysawayfromwork, jobtransferrestriction, othercases)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare insert incident")
	}
	defer stmt.Close() //nolint:errcheck

	// Resolve each distinct foreign key once per batch.
	knownRegions := make(map[string]bool)
	knownSectors := make(map[string]bool)

	for _, inc := range incs {
		if err := validateIncident(inc); err != nil {
			return 0, err
		}

		if !knownRegions[inc.StateCode] {
			if err := resolveRef(ctx, tx, "regions", "state_code", inc.StateCode); err != nil {
				return 0, err
			}
			knownRegions[inc.StateCode] = true
		}
		if !knownSectors[inc.NAICSCode] {
			if err := resolveRef(ctx, tx, "sectors", "naics_code", inc.NAICSCode); err != nil {
				return 0, err
			}
			knownSectors[inc.NAICSCode] = true
		}

		if _, err := stmt.ExecContext(ctx,
			inc.Year, inc.StateCode, inc.NAICSCode,
			nullableInt64(inc.Employees), nullableInt64(inc.HoursWorked),
			inc.Injuries, inc.Fatalities, inc.DaysAwayFromWork,
			inc.JobTransferRestriction, inc.OtherCases,
		); err != nil {
			return 0, eris.Wrap(err, "sqlite: insert incident")
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit insert incidents")
	}
	return int64(len(incs)), nil
}

// ListJoinedIncidents returns every incident joined to both reference
// tables, in ascending incident_id order. Report rankings rely on this
// ordering for deterministic tie-breaks.
func (s *SQLiteStore) ListJoinedIncidents(ctx context.Context) ([]model.JoinedIncident, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT i.incident_id, i.year, i.state_code, i.naics_code,
		       i.employees, i.hoursworked,
		       i.injuries, i.fatalities, i.daysawayfromwork,
		       i.jobtransferrestriction, i.othercases,
		       r.state_name,
		       COALESCE(s.sector_name, ''), COALESCE(s.sector_clean, ''), s.sector_macro
		FROM incidents i
		JOIN regions r ON i.state_code = r.state_code
		JOIN sectors s ON i.naics_code = s.naics_code
		ORDER BY i.incident_id`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list joined incidents")
	}
	defer rows.Close()

	var out []model.JoinedIncident
	for rows.Next() {
		var j model.JoinedIncident
		var employees, hours sql.NullInt64
		if err := rows.Scan(
			&j.ID, &j.Year, &j.StateCode, &j.NAICSCode,
			&employees, &hours,
			&j.Injuries, &j.Fatalities, &j.DaysAwayFromWork,
			&j.JobTransferRestriction, &j.OtherCases,
			&j.StateName, &j.SectorName, &j.SectorClean, &j.SectorMacro,
		); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan joined incident")
		}
		if employees.Valid {
			j.Employees = &employees.Int64
		}
		if hours.Valid {
			j.HoursWorked = &hours.Int64
		}
		out = append(out, j)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list joined incidents iterate")
}

func (s *SQLiteStore) Counts(ctx context.Context) (*model.RecordCounts, error) {
	var c model.RecordCounts
	err := s.db.QueryRowContext(ctx, `
		SELECT (SELECT COUNT(*) FROM incidents),
		       (SELECT COUNT(*) FROM regions),
		       (SELECT COUNT(*) FROM sectors)`,
	).Scan(&c.Incidents, &c.Regions, &c.Sectors)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: counts")
	}
	return &c, nil
}

func (s *SQLiteStore) CreateLoadRun(ctx context.Context, source string) (*model.LoadRun, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO load_runs (id, source, status, started_at) VALUES (?, ?, ?, ?)`,
		id, source, string(model.LoadRunRunning), now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert load run")
	}

	return &model.LoadRun{
		ID:        id,
		Source:    source,
		Status:    model.LoadRunRunning,
		StartedAt: now,
	}, nil
}

func (s *SQLiteStore) CompleteLoadRun(ctx context.Context, id string, status model.LoadRunStatus, rows int64, errMsg string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE load_runs SET status = ?, rows_loaded = ?, error = ?, completed_at = ? WHERE id = ?`,
		string(status), rows, errMsg, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete load run %s", id)
	}
	return checkRowsAffected(res, "load run", id)
}

func (s *SQLiteStore) ListLoadRuns(ctx context.Context, limit int) ([]model.LoadRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, source, status, rows_loaded, COALESCE(error, ''), started_at, completed_at
		 FROM load_runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list load runs")
	}
	defer rows.Close()

	var runs []model.LoadRun
	for rows.Next() {
		var lr model.LoadRun
		var status string
		var completed sql.NullTime
		if err := rows.Scan(&lr.ID, &lr.Source, &status, &lr.RowsLoaded, &lr.Error, &lr.StartedAt, &completed); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan load run")
		}
		lr.Status = model.LoadRunStatus(status)
		if completed.Valid {
			lr.CompletedAt = &completed.Time
		}
		runs = append(runs, lr)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list load runs iterate")
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

func nullableInt64(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}
