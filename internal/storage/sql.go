package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dennisdiepolder/monti/dialer/internal/types"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS attempts (
		attempt_id   TEXT PRIMARY KEY,
		campaign_id  TEXT NOT NULL,
		date_key     TEXT NOT NULL,
		lead_id      TEXT NOT NULL,
		phone_number TEXT NOT NULL,
		outcome      TEXT NOT NULL,
		issued_at    TEXT NOT NULL,
		completed_at TEXT NOT NULL,
		ring_secs    DOUBLE PRECISION NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS attempts_date_idx ON attempts (date_key, campaign_id)`,
	`CREATE TABLE IF NOT EXISTS pacing_configs (
		campaign_id TEXT PRIMARY KEY,
		config      TEXT NOT NULL,
		updated_at  BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS leads (
		campaign_id  TEXT NOT NULL,
		lead_id      TEXT NOT NULL,
		phone_number TEXT NOT NULL,
		created_at   BIGINT NOT NULL,
		loaded       INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (campaign_id, lead_id)
	)`,
}

// SQLStore implements Store on postgres (pgx) or sqlite. It also serves as the
// hopper's lead backlog.
type SQLStore struct {
	db      *sql.DB
	dialect Mode
	logger  zerolog.Logger
}

// OpenSQLStore connects, applies the schema and returns the store
func OpenSQLStore(ctx context.Context, mode Mode, dsn string, logger zerolog.Logger) (*SQLStore, error) {
	if dsn == "" {
		return nil, errors.New("database url is required")
	}

	var driver string
	switch mode {
	case ModePostgres:
		driver = "pgx"
	case ModeSQLite:
		driver = "sqlite"
	default:
		return nil, fmt.Errorf("unsupported sql mode %q", mode)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if mode == ModeSQLite {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		for _, pragma := range []string{"PRAGMA journal_mode = WAL;", "PRAGMA busy_timeout = 5000;"} {
			if _, err := db.ExecContext(ctx, pragma); err != nil {
				_ = db.Close()
				return nil, fmt.Errorf("apply pragma %q: %w", pragma, err)
			}
		}
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}

	s := &SQLStore{
		db:      db,
		dialect: mode,
		logger:  logger.With().Str("component", "sql_store").Logger(),
	}
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply schema: %w", err)
		}
	}

	s.logger.Info().Str("driver", driver).Msg("SQL store initialized")
	return s, nil
}

// rebind turns ? placeholders into $n for postgres
func (s *SQLStore) rebind(query string) string {
	if s.dialect != ModePostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLStore) SaveAttemptRecord(ctx context.Context, r types.AttemptRecord) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO attempts (attempt_id, campaign_id, date_key, lead_id, phone_number, outcome, issued_at, completed_at, ring_secs)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (attempt_id) DO NOTHING`),
		r.AttemptID, r.CampaignID, r.DateKey, r.LeadID, r.PhoneNumber, string(r.Outcome), r.IssuedAt, r.CompletedAt, r.RingSecs)
	if err != nil {
		return fmt.Errorf("failed to save attempt record: %w", err)
	}
	return nil
}

func (s *SQLStore) GetAttemptRecords(ctx context.Context, campaignID, dateKey string) ([]types.AttemptRecord, error) {
	query := `SELECT attempt_id, campaign_id, date_key, lead_id, phone_number, outcome, issued_at, completed_at, ring_secs
		FROM attempts WHERE date_key = ?`
	args := []any{dateKey}
	if campaignID != "" {
		query += ` AND campaign_id = ?`
		args = append(args, campaignID)
	}
	query += ` ORDER BY issued_at, attempt_id`

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query attempt records: %w", err)
	}
	defer rows.Close()

	var records []types.AttemptRecord
	for rows.Next() {
		var r types.AttemptRecord
		var outcome string
		if err := rows.Scan(&r.AttemptID, &r.CampaignID, &r.DateKey, &r.LeadID, &r.PhoneNumber, &outcome, &r.IssuedAt, &r.CompletedAt, &r.RingSecs); err != nil {
			return nil, fmt.Errorf("failed to scan attempt record: %w", err)
		}
		r.Outcome = types.Outcome(outcome)
		records = append(records, r)
	}
	return records, rows.Err()
}

func (s *SQLStore) SavePacingConfig(ctx context.Context, campaignID string, cfg types.PacingConfig) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal pacing config: %w", err)
	}
	_, err = s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO pacing_configs (campaign_id, config, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (campaign_id) DO UPDATE SET config = excluded.config, updated_at = excluded.updated_at`),
		campaignID, string(data), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to save pacing config: %w", err)
	}
	return nil
}

func (s *SQLStore) LoadPacingConfigs(ctx context.Context) (map[string]types.PacingConfig, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT campaign_id, config FROM pacing_configs`)
	if err != nil {
		return nil, fmt.Errorf("failed to query pacing configs: %w", err)
	}
	defer rows.Close()

	configs := make(map[string]types.PacingConfig)
	for rows.Next() {
		var id, raw string
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("failed to scan pacing config: %w", err)
		}
		var cfg types.PacingConfig
		if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
			s.logger.Warn().Err(err).Str("campaign_id", id).Msg("skipping unreadable pacing config")
			continue
		}
		configs[id] = cfg
	}
	return configs, rows.Err()
}

// AddLeads appends leads to the backlog. Known lead IDs are skipped.
func (s *SQLStore) AddLeads(ctx context.Context, campaignID string, leads []types.HopperEntry) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	stmt := s.rebind(`INSERT INTO leads (campaign_id, lead_id, phone_number, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (campaign_id, lead_id) DO NOTHING`)
	base := time.Now().UnixNano()
	added := 0
	for i, lead := range leads {
		if lead.LeadID == "" || lead.PhoneNumber == "" {
			continue
		}
		res, err := tx.ExecContext(ctx, stmt, campaignID, lead.LeadID, lead.PhoneNumber, base+int64(i))
		if err != nil {
			return 0, fmt.Errorf("failed to add lead %s: %w", lead.LeadID, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			added++
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return added, nil
}

// FetchLeads hands out up to limit backlog leads in insertion order and marks them loaded
func (s *SQLStore) FetchLeads(ctx context.Context, campaignID string, limit int) ([]types.HopperEntry, error) {
	if limit <= 0 {
		return nil, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, s.rebind(`SELECT lead_id, phone_number FROM leads
		WHERE campaign_id = ? AND loaded = 0 ORDER BY created_at, lead_id LIMIT ?`), campaignID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query leads: %w", err)
	}
	var leads []types.HopperEntry
	for rows.Next() {
		e := types.HopperEntry{CampaignID: campaignID}
		if err := rows.Scan(&e.LeadID, &e.PhoneNumber); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan lead: %w", err)
		}
		leads = append(leads, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	mark := s.rebind(`UPDATE leads SET loaded = 1 WHERE campaign_id = ? AND lead_id = ?`)
	for _, e := range leads {
		if _, err := tx.ExecContext(ctx, mark, campaignID, e.LeadID); err != nil {
			return nil, fmt.Errorf("failed to mark lead %s: %w", e.LeadID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return leads, nil
}

func (s *SQLStore) TruncateAll(ctx context.Context) error {
	for _, table := range []string{"attempts", "pacing_configs", "leads"} {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM `+table); err != nil {
			return fmt.Errorf("failed to truncate %s: %w", table, err)
		}
		s.logger.Info().Str("table", table).Msg("table truncated")
	}
	return nil
}

func (s *SQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
