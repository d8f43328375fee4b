package state

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/danielpatrickdp/honest-lab/internal/belief"
	"github.com/danielpatrickdp/honest-lab/internal/cycle"
	"github.com/danielpatrickdp/honest-lab/internal/lab"
)

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS campaigns (
	campaign_id   TEXT PRIMARY KEY,
	seed          INTEGER NOT NULL,
	config_json   TEXT,
	created_at    TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS belief_versions (
	version_id    TEXT PRIMARY KEY,
	campaign_id   TEXT NOT NULL,
	parent_id     TEXT,
	cycle         INTEGER NOT NULL,
	snapshot_json TEXT NOT NULL,
	created_at    TEXT NOT NULL,
	FOREIGN KEY (campaign_id) REFERENCES campaigns(campaign_id),
	FOREIGN KEY (parent_id) REFERENCES belief_versions(version_id)
);

CREATE TABLE IF NOT EXISTS active_belief (
	campaign_id   TEXT PRIMARY KEY,
	version_id    TEXT NOT NULL,
	FOREIGN KEY (campaign_id) REFERENCES campaigns(campaign_id),
	FOREIGN KEY (version_id) REFERENCES belief_versions(version_id)
);

CREATE TABLE IF NOT EXISTS runs (
	run_id           TEXT PRIMARY KEY,
	campaign_id      TEXT NOT NULL,
	cycle            INTEGER NOT NULL,
	action           TEXT NOT NULL,
	wells            INTEGER NOT NULL,
	digest           TEXT NOT NULL,
	observation_json TEXT,
	created_at       TEXT NOT NULL,
	FOREIGN KEY (campaign_id) REFERENCES campaigns(campaign_id)
);

CREATE TABLE IF NOT EXISTS results (
	run_id        TEXT NOT NULL,
	well_id       TEXT NOT NULL,
	row_json      TEXT NOT NULL,
	PRIMARY KEY (run_id, well_id),
	FOREIGN KEY (run_id) REFERENCES runs(run_id)
);

CREATE TABLE IF NOT EXISTS provenance_log (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id        TEXT NOT NULL,
	cycle         INTEGER NOT NULL,
	kind          TEXT NOT NULL,
	payload_json  TEXT,
	decision      TEXT NOT NULL,
	reason        TEXT,
	created_at    TEXT NOT NULL
);
`

// #endregion schema

// #region store-struct
// Store keeps campaign bookkeeping in SQLite.
type Store struct {
	db *sql.DB
}

// #endregion store-struct

// #region constructor
// NewStore opens a SQLite database and runs migrations.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		return nil, fmt.Errorf("pragma fk: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for use by other packages (e.g. logging).
func (s *Store) DB() *sql.DB {
	return s.db
}

// #endregion constructor

// #region campaigns
// CreateCampaign registers a new campaign.
func (s *Store) CreateCampaign(seed int64, configJSON string) (Campaign, error) {
	c := Campaign{
		CampaignID: uuid.New().String(),
		Seed:       seed,
		ConfigJSON: configJSON,
		CreatedAt:  time.Now().UTC(),
	}
	_, err := s.db.Exec(
		`INSERT INTO campaigns (campaign_id, seed, config_json, created_at) VALUES (?, ?, ?, ?)`,
		c.CampaignID, c.Seed, nullIfEmpty(configJSON), c.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return Campaign{}, fmt.Errorf("insert campaign: %w", err)
	}
	return c, nil
}

// GetCampaign reads a campaign by id.
func (s *Store) GetCampaign(id string) (Campaign, error) {
	var c Campaign
	var cfg sql.NullString
	var created string
	err := s.db.QueryRow(`SELECT campaign_id, seed, config_json, created_at FROM campaigns WHERE campaign_id = ?`, id).
		Scan(&c.CampaignID, &c.Seed, &cfg, &created)
	if err != nil {
		return Campaign{}, fmt.Errorf("get campaign %s: %w", id, err)
	}
	c.ConfigJSON = cfg.String
	c.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	return c, nil
}

// ListCampaigns returns every campaign, newest first.
func (s *Store) ListCampaigns() ([]Campaign, error) {
	rows, err := s.db.Query(`SELECT campaign_id, seed, config_json, created_at FROM campaigns ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list campaigns: %w", err)
	}
	defer rows.Close()

	var out []Campaign
	for rows.Next() {
		var c Campaign
		var cfg sql.NullString
		var created string
		if err := rows.Scan(&c.CampaignID, &c.Seed, &cfg, &created); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		c.ConfigJSON = cfg.String
		c.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		out = append(out, c)
	}
	return out, rows.Err()
}

// #endregion campaigns

// #region belief-versions
// CommitBelief inserts a new belief version and makes it the campaign's active one.
func (s *Store) CommitBelief(campaignID, parentID string, snap belief.Snapshot) (BeliefVersion, error) {
	snapJSON, err := json.Marshal(snap)
	if err != nil {
		return BeliefVersion{}, fmt.Errorf("marshal snapshot: %w", err)
	}
	v := BeliefVersion{
		VersionID:  uuid.New().String(),
		CampaignID: campaignID,
		ParentID:   parentID,
		Cycle:      snap.Cycle,
		Snapshot:   snap,
		CreatedAt:  time.Now().UTC(),
	}

	tx, err := s.db.Begin()
	if err != nil {
		return BeliefVersion{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO belief_versions (version_id, campaign_id, parent_id, cycle, snapshot_json, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		v.VersionID, campaignID, nullIfEmpty(parentID), int(v.Cycle), string(snapJSON), v.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return BeliefVersion{}, fmt.Errorf("insert belief version: %w", err)
	}
	_, err = tx.Exec(
		`INSERT INTO active_belief (campaign_id, version_id) VALUES (?, ?)
		 ON CONFLICT(campaign_id) DO UPDATE SET version_id = excluded.version_id`,
		campaignID, v.VersionID,
	)
	if err != nil {
		return BeliefVersion{}, fmt.Errorf("set active: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return BeliefVersion{}, fmt.Errorf("commit: %w", err)
	}
	return v, nil
}

// GetCurrentBelief reads the campaign's active belief version.
func (s *Store) GetCurrentBelief(campaignID string) (BeliefVersion, error) {
	var id string
	err := s.db.QueryRow(`SELECT version_id FROM active_belief WHERE campaign_id = ?`, campaignID).Scan(&id)
	if err != nil {
		return BeliefVersion{}, fmt.Errorf("get active belief: %w", err)
	}
	return s.GetBelief(id)
}

// GetBelief retrieves a belief version by id.
func (s *Store) GetBelief(id string) (BeliefVersion, error) {
	row := s.db.QueryRow(
		`SELECT version_id, campaign_id, parent_id, cycle, snapshot_json, created_at
		 FROM belief_versions WHERE version_id = ?`, id)
	v, err := scanBelief(row)
	if err != nil {
		return BeliefVersion{}, fmt.Errorf("get belief %s: %w", id, err)
	}
	return v, nil
}

// ListBeliefs returns the campaign's most recent belief versions, newest cycle first.
func (s *Store) ListBeliefs(campaignID string, limit int) ([]BeliefVersion, error) {
	rows, err := s.db.Query(
		`SELECT version_id, campaign_id, parent_id, cycle, snapshot_json, created_at
		 FROM belief_versions WHERE campaign_id = ? ORDER BY cycle DESC LIMIT ?`, campaignID, limit)
	if err != nil {
		return nil, fmt.Errorf("list beliefs: %w", err)
	}
	defer rows.Close()

	var out []BeliefVersion
	for rows.Next() {
		v, err := scanBelief(rows)
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanBelief(row scanner) (BeliefVersion, error) {
	var v BeliefVersion
	var parent sql.NullString
	var c int
	var snapJSON, created string
	if err := row.Scan(&v.VersionID, &v.CampaignID, &parent, &c, &snapJSON, &created); err != nil {
		return BeliefVersion{}, err
	}
	v.ParentID = parent.String
	v.Cycle = cycle.Cycle(c)
	if err := json.Unmarshal([]byte(snapJSON), &v.Snapshot); err != nil {
		return BeliefVersion{}, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	v.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	return v, nil
}

// #endregion belief-versions

// #region runs
// RecordRun stores a run and its results table atomically.
func (s *Store) RecordRun(rec RunRecord, rows []lab.Row) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO runs (run_id, campaign_id, cycle, action, wells, digest, observation_json, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RunID, rec.CampaignID, int(rec.Cycle), string(rec.Action), rec.Wells,
		strconv.FormatUint(rec.Digest, 16), nullIfEmpty(rec.ObservationJSON), rec.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	for _, r := range rows {
		b, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("marshal row %s: %w", r.WellID, err)
		}
		if _, err := tx.Exec(`INSERT INTO results (run_id, well_id, row_json) VALUES (?, ?, ?)`, rec.RunID, r.WellID, string(b)); err != nil {
			return fmt.Errorf("insert result %s: %w", r.WellID, err)
		}
	}
	return tx.Commit()
}

// ListRuns returns a campaign's runs in cycle order.
func (s *Store) ListRuns(campaignID string) ([]RunRecord, error) {
	rows, err := s.db.Query(
		`SELECT run_id, campaign_id, cycle, action, wells, digest, observation_json, created_at
		 FROM runs WHERE campaign_id = ? ORDER BY cycle ASC`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		var r RunRecord
		var c int
		var action, digest, created string
		var obs sql.NullString
		if err := rows.Scan(&r.RunID, &r.CampaignID, &c, &action, &r.Wells, &digest, &obs, &created); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		r.Cycle = cycle.Cycle(c)
		r.Action = belief.Action(action)
		r.Digest, err = strconv.ParseUint(digest, 16, 64)
		if err != nil {
			return nil, fmt.Errorf("parse digest %q: %w", digest, err)
		}
		r.ObservationJSON = obs.String
		r.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Results returns a run's results table sorted by well id.
func (s *Store) Results(runID string) ([]lab.Row, error) {
	rows, err := s.db.Query(`SELECT row_json FROM results WHERE run_id = ? ORDER BY well_id ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	defer rows.Close()

	var out []lab.Row
	for rows.Next() {
		var b string
		if err := rows.Scan(&b); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		var r lab.Row
		if err := json.Unmarshal([]byte(b), &r); err != nil {
			return nil, fmt.Errorf("unmarshal row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// #endregion runs

// #region helpers
func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// #endregion helpers
