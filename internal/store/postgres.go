package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/osha-insights/internal/db"
	"github.com/sells-group/osha-insights/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool db.Pool
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS regions (
	state_code CHAR(2) PRIMARY KEY,
	state_name TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS sectors (
	naics_code   VARCHAR(10) PRIMARY KEY,
	sector_name  TEXT,
	sector_clean TEXT,
	sector_macro TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS incidents (
	incident_id            BIGSERIAL PRIMARY KEY,
	year                   INT NOT NULL,
	state_code             CHAR(2) NOT NULL REFERENCES regions(state_code) ON DELETE RESTRICT,
	naics_code             VARCHAR(10) NOT NULL REFERENCES sectors(naics_code) ON DELETE RESTRICT,
	employees              INT,
	hoursworked            BIGINT,
	injuries               INT NOT NULL DEFAULT 0 CHECK (injuries >= 0),
	fatalities             INT NOT NULL DEFAULT 0 CHECK (fatalities >= 0),
	daysawayfromwork       INT NOT NULL DEFAULT 0 CHECK (daysawayfromwork >= 0),
	jobtransferrestriction INT NOT NULL DEFAULT 0 CHECK (jobtransferrestriction >= 0),
	othercases             INT NOT NULL DEFAULT 0 CHECK (othercases >= 0)
);

CREATE TABLE IF NOT EXISTS load_runs (
	id           TEXT PRIMARY KEY,
	source       TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'running',
	rows_loaded  BIGINT NOT NULL DEFAULT 0,
	error        TEXT,
	started_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	completed_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_incidents_year ON incidents(year);
CREATE INDEX IF NOT EXISTS idx_incidents_state ON incidents(state_code);
CREATE INDEX IF NOT EXISTS idx_incidents_naics ON incidents(naics_code);
CREATE INDEX IF NOT EXISTS idx_load_runs_started ON load_runs(started_at);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) GetRegion(ctx context.Context, stateCode string) (*model.Region, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT state_code, state_name FROM regions WHERE state_code = $1`, stateCode)

	var r model.Region
	err := row.Scan(&r.StateCode, &r.StateName)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get region")
	}
	return &r, nil
}

func (s *PostgresStore) GetSector(ctx context.Context, naicsCode string) (*model.Sector, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT naics_code, sector_name, sector_clean, sector_macro FROM sectors WHERE naics_code = $1`, naicsCode)

	var sec model.Sector
	err := row.Scan(&sec.NAICSCode, &sec.SectorName, &sec.SectorClean, &sec.SectorMacro)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get sector")
	}
	return &sec, nil
}

func (s *PostgresStore) ListRegions(ctx context.Context) ([]model.Region, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT state_code, state_name FROM regions ORDER BY state_code`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list regions")
	}
	defer rows.Close()

	var regions []model.Region
	for rows.Next() {
		var r model.Region
		if err := rows.Scan(&r.StateCode, &r.StateName); err != nil {
			return nil, eris.Wrap(err, "postgres: scan region")
		}
		regions = append(regions, r)
	}
	return regions, eris.Wrap(rows.Err(), "postgres: list regions iterate")
}

func (s *PostgresStore) ListSectors(ctx context.Context) ([]model.Sector, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT naics_code, sector_name, sector_clean, sector_macro FROM sectors ORDER BY naics_code`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list sectors")
	}
	defer rows.Close()

	var sectors []model.Sector
	for rows.Next() {
		var sec model.Sector
		if err := rows.Scan(&sec.NAICSCode, &sec.SectorName, &sec.SectorClean, &sec.SectorMacro); err != nil {
			return nil, eris.Wrap(err, "postgres: scan sector")
		}
		sectors = append(sectors, sec)
	}
	return sectors, eris.Wrap(rows.Err(), "postgres: list sectors iterate")
}

func (s *PostgresStore) LoadRegions(ctx context.Context, regions []model.Region) (int64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: begin load regions")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

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
		if err := tx.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM regions WHERE state_code = $1)`, r.StateCode,
		).Scan(&exists); err != nil {
			return 0, eris.Wrap(err, "postgres: check region exists")
		}
		if exists {
			return 0, &DuplicateKeyError{Table: "regions", Key: r.StateCode}
		}

		if _, err := tx.Exec(ctx,
			`INSERT INTO regions (state_code, state_name) VALUES ($1, $2)`,
			r.StateCode, r.StateName,
		); err != nil {
			return 0, eris.Wrapf(err, "postgres: insert region %s", r.StateCode)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "postgres: commit load regions")
	}
	return int64(len(regions)), nil
}

func (s *PostgresStore) LoadSectors(ctx context.Context, sectors []model.Sector) (int64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: begin load sectors")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

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
		if err := tx.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM sectors WHERE naics_code = $1)`, sec.NAICSCode,
		).Scan(&exists); err != nil {
			return 0, eris.Wrap(err, "postgres: check sector exists")
		}
		if exists {
			return 0, &DuplicateKeyError{Table: "sectors", Key: sec.NAICSCode}
		}

		if _, err := tx.Exec(ctx,
			`INSERT INTO sectors (naics_code, sector_name, sector_clean, sector_macro) VALUES ($1, $2, $3, $4)`,
			sec.NAICSCode, sec.SectorName, sec.SectorClean, sec.SectorMacro,
		); err != nil {
			return 0, eris.Wrapf(err, "postgres: insert sector %s", sec.NAICSCode)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "postgres: commit load sectors")
	}
	return int64(len(sectors)), nil
}

func (s *PostgresStore) DeleteRegion(ctx context.Context, stateCode string) error {
	return s.deleteRef(ctx, "regions", "state_code", stateCode)
}

func (s *PostgresStore) DeleteSector(ctx context.Context, naicsCode string) error {
	return s.deleteRef(ctx, "sectors", "naics_code", naicsCode)
}

// deleteRef deletes a reference row after verifying no incident still
// points at it; table and column names come from the two fixed call sites.
func (s *PostgresStore) deleteRef(ctx context.Context, table, column, key string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrapf(err, "postgres: begin delete %s", table)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var dependents int64
	if err := tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM incidents WHERE `+column+` = $1`, key,
	).Scan(&dependents); err != nil {
		return eris.Wrapf(err, "postgres: count %s dependents", table)
	}
	if dependents > 0 {
		return &RestrictError{Table: table, Key: key, Dependents: dependents}
	}

	tag, err := tx.Exec(ctx, `DELETE FROM `+table+` WHERE `+column+` = $1`, key)
	if err != nil {
		return eris.Wrapf(err, "postgres: delete from %s", table)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("%s not found: %s", table, key)
	}

	return eris.Wrapf(tx.Commit(ctx), "postgres: commit delete %s", table)
}

func (s *PostgresStore) InsertIncident(ctx context.Context, inc model.Incident) (*model.Incident, error) {
	if err := validateIncident(inc); err != nil {
		return nil, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: begin insert incident")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := resolveRefPG(ctx, tx, "regions", "state_code", inc.StateCode); err != nil {
		return nil, err
	}
	if err := resolveRefPG(ctx, tx, "sectors", "naics_code", inc.NAICSCode); err != nil {
		return nil, err
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO incidents
		(year, state_code, naics_code, employees, hoursworked,
		 injuries, fatalities, daysawayfromwork, jobtransferrestriction, othercases)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING incident_id`,
		inc.Year, inc.StateCode, inc.NAICSCode,
		inc.Employees, inc.HoursWorked,
		inc.Injuries, inc.Fatalities, inc.DaysAwayFromWork,
		inc.JobTransferRestriction, inc.OtherCases,
	).Scan(&inc.ID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert incident")
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, eris.Wrap(err, "postgres: commit insert incident")
	}
	return &inc, nil
}

// InsertIncidents bulk-inserts a batch atomically using the COPY protocol
// after resolving each distinct foreign key once.
func (s *PostgresStore) InsertIncidents(ctx context.Context, incs []model.Incident) (int64, error) {
	if len(incs) == 0 {
		return 0, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: begin insert incidents")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	knownRegions := make(map[string]bool)
	knownSectors := make(map[string]bool)
	rows := make([][]any, 0, len(incs))

	for _, inc := range incs {
		if err := validateIncident(inc); err != nil {
			return 0, err
		}
		if !knownRegions[inc.StateCode] {
			if err := resolveRefPG(ctx, tx, "regions", "state_code", inc.StateCode); err != nil {
				return 0, err
			}
			knownRegions[inc.StateCode] = true
		}
		if !knownSectors[inc.NAICSCode] {
			if err := resolveRefPG(ctx, tx, "sectors", "naics_code", inc.NAICSCode); err != nil {
				return 0, err
			}
			knownSectors[inc.NAICSCode] = true
		}

		rows = append(rows, []any{
			inc.Year, inc.StateCode, inc.NAICSCode,
			inc.Employees, inc.HoursWorked,
			inc.Injuries, inc.Fatalities, inc.DaysAwayFromWork,
			inc.JobTransferRestriction, inc.OtherCases,
		})
	}

	n, err := tx.CopyFrom(ctx, pgx.Identifier{"incidents"},
		[]string{"year", "state_code", "naics_code", "employees", "hoursworked",
			"injuries", "fatalities", "daysawayfromwork", "jobtransferrestriction", "othercases"},
		pgx.CopyFromRows(rows))
	if err != nil {
		return 0, eris.Wrap(err, "postgres: COPY incidents")
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "postgres: commit insert incidents")
	}
	return n, nil
}

func resolveRefPG(ctx context.Context, tx pgx.Tx, table, column, value string) error {
	var exists bool
	query := `SELECT EXISTS(SELECT 1 FROM ` + table + ` WHERE ` + column + ` = $1)`
	if err := tx.QueryRow(ctx, query, value).Scan(&exists); err != nil {
		return eris.Wrapf(err, "postgres: resolve %s", column)
	}
	if !exists {
		return &ReferentialIntegrityError{Column: column, Value: value}
	}
	return nil
}

func (s *PostgresStore) ListJoinedIncidents(ctx context.Context) ([]model.JoinedIncident, error) {
	rows, err := s.pool.Query(ctx, `
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
		return nil, eris.Wrap(err, "postgres: list joined incidents")
	}
	defer rows.Close()

	var out []model.JoinedIncident
	for rows.Next() {
		var j model.JoinedIncident
		if err := rows.Scan(
			&j.ID, &j.Year, &j.StateCode, &j.NAICSCode,
			&j.Employees, &j.HoursWorked,
			&j.Injuries, &j.Fatalities, &j.DaysAwayFromWork,
			&j.JobTransferRestriction, &j.OtherCases,
			&j.StateName, &j.SectorName, &j.SectorClean, &j.SectorMacro,
		); err != nil {
			return nil, eris.Wrap(err, "postgres: scan joined incident")
		}
		out = append(out, j)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list joined incidents iterate")
}

func (s *PostgresStore) Counts(ctx context.Context) (*model.RecordCounts, error) {
	var c model.RecordCounts
	err := s.pool.QueryRow(ctx, `
		SELECT (SELECT COUNT(*) FROM incidents),
		       (SELECT COUNT(*) FROM regions),
		       (SELECT COUNT(*) FROM sectors)`,
	).Scan(&c.Incidents, &c.Regions, &c.Sectors)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: counts")
	}
	return &c, nil
}

func (s *PostgresStore) CreateLoadRun(ctx context.Context, source string) (*model.LoadRun, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO load_runs (id, source, status, started_at) VALUES ($1, $2, $3, $4)`,
		id, source, string(model.LoadRunRunning), now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert load run")
	}

	return &model.LoadRun{
		ID:        id,
		Source:    source,
		Status:    model.LoadRunRunning,
		StartedAt: now,
	}, nil
}

func (s *PostgresStore) CompleteLoadRun(ctx context.Context, id string, status model.LoadRunStatus, rows int64, errMsg string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE load_runs SET status = $1, rows_loaded = $2, error = $3, completed_at = $4 WHERE id = $5`,
		string(status), rows, errMsg, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete load run %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("load run not found: %s", id)
	}
	return nil
}

func (s *PostgresStore) ListLoadRuns(ctx context.Context, limit int) ([]model.LoadRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, source, status, rows_loaded, COALESCE(error, ''), started_at, completed_at
		 FROM load_runs ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list load runs")
	}
	defer rows.Close()

	var runs []model.LoadRun
	for rows.Next() {
		var lr model.LoadRun
		var status string
		if err := rows.Scan(&lr.ID, &lr.Source, &status, &lr.RowsLoaded, &lr.Error, &lr.StartedAt, &lr.CompletedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan load run")
		}
		lr.Status = model.LoadRunStatus(status)
		runs = append(runs, lr)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list load runs iterate")
}
