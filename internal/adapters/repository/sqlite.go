package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/okian/transferwire/internal/domain/model"
	"github.com/okian/transferwire/internal/domain/story"
	_ "modernc.org/sqlite"
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// timestamps are stored as fixed-width UTC text so they sort lexically.
const tsLayout = "2006-01-02T15:04:05.000000000Z"

var schema = []string{
	`CREATE TABLE IF NOT EXISTS sources (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		handle TEXT NOT NULL DEFAULT '',
		region TEXT NOT NULL,
		tier INTEGER NOT NULL,
		active INTEGER NOT NULL,
		feed_url TEXT NOT NULL DEFAULT '',
		kind TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS signals (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		source_id TEXT NOT NULL,
		text TEXT NOT NULL,
		observed_at TEXT NOT NULL,
		is_transfer_related INTEGER NOT NULL,
		confidence REAL NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_signals_source ON signals(source_id, seq)`,
	`CREATE TABLE IF NOT EXISTS stories (
		id TEXT PRIMARY KEY,
		canonical_hash TEXT NOT NULL,
		headline TEXT NOT NULL,
		headline_confidence REAL NOT NULL,
		headline_at TEXT NOT NULL,
		player TEXT NOT NULL DEFAULT '',
		clubs TEXT NOT NULL DEFAULT '[]',
		stage TEXT NOT NULL,
		signal_ids TEXT NOT NULL DEFAULT '[]',
		source_ids TEXT NOT NULL DEFAULT '[]',
		update_count INTEGER NOT NULL,
		last_checked_at TEXT NOT NULL,
		created_at TEXT NOT NULL,
		status TEXT NOT NULL,
		needs_review INTEGER NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_stories_active_hash ON stories(canonical_hash) WHERE status != 'retracted'`,
	`CREATE INDEX IF NOT EXISTS idx_stories_checked ON stories(last_checked_at DESC, id)`,
	`CREATE TABLE IF NOT EXISTS story_signals (
		signal_id TEXT PRIMARY KEY,
		story_id TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS story_sources (
		story_id TEXT NOT NULL,
		source_id TEXT NOT NULL,
		PRIMARY KEY (story_id, source_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_story_sources_source ON story_sources(source_id)`,
	`CREATE TABLE IF NOT EXISTS metrics (
		source_id TEXT PRIMARY KEY,
		total_signals INTEGER NOT NULL,
		transfer_related_signals INTEGER NOT NULL,
		confirmed_outcomes INTEGER NOT NULL,
		false_positives INTEGER NOT NULL,
		accuracy_rate REAL NOT NULL,
		average_response_time_minutes REAL NOT NULL,
		trend TEXT NOT NULL,
		baseline REAL NOT NULL,
		baseline_set INTEGER NOT NULL,
		hour_histogram TEXT NOT NULL,
		last_updated_at TEXT NOT NULL
	)`,
}

// SQLiteStore persists the pipeline in a single SQLite database.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// NewSQLiteStore opens path, applies pragmas and creates the schema.
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, ErrMissingPath
	}
	dsn := path
	memory := path == MemoryPath
	if memory {
		// named so separate stores in one process never share a database
		dsn = "file:tw-" + uuid.NewString() + "?mode=memory&cache=shared"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if memory {
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	pragmas := []string{"PRAGMA busy_timeout = 5000"}
	if !memory {
		pragmas = append(pragmas, "PRAGMA journal_mode=WAL")
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", p, err)
		}
	}

	s := &SQLiteStore{db: db, path: path}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%w: %v", ErrSchema, err)
		}
	}
	return nil
}

// Path returns the database path the store was opened with.
func (s *SQLiteStore) Path() string { return s.path }

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

const storyColumns = `id, canonical_hash, headline, headline_confidence, headline_at, player, clubs,
	stage, signal_ids, source_ids, update_count, last_checked_at, created_at, status, needs_review`

func scanStory(r rowScanner) (model.Story, error) {
	var (
		st                                 model.Story
		headlineAt, lastChecked, created   string
		clubs, signalIDs, sourceIDs, stage string
		status                             string
		needsReview                        bool
	)
	if err := r.Scan(&st.ID, &st.CanonicalHash, &st.Headline, &st.HeadlineConfidence, &headlineAt,
		&st.Player, &clubs, &stage, &signalIDs, &sourceIDs, &st.UpdateCount, &lastChecked, &created,
		&status, &needsReview); err != nil {
		return model.Story{}, err
	}
	var err error
	if st.Stage, err = model.ParseStage(stage); err != nil {
		return model.Story{}, err
	}
	if st.Status, err = model.ParseStatus(status); err != nil {
		return model.Story{}, err
	}
	st.NeedsReview = needsReview
	for _, col := range []struct {
		raw string
		dst *[]string
	}{{clubs, &st.Clubs}, {signalIDs, &st.SignalIDs}, {sourceIDs, &st.SourceIDs}} {
		if err := json.Unmarshal([]byte(col.raw), col.dst); err != nil {
			return model.Story{}, fmt.Errorf("decode story %s: %w", st.ID, err)
		}
	}
	for _, ts := range []struct {
		raw string
		dst *time.Time
	}{{headlineAt, &st.HeadlineAt}, {lastChecked, &st.LastCheckedAt}, {created, &st.CreatedAt}} {
		if *ts.dst, err = parseTime(ts.raw); err != nil {
			return model.Story{}, err
		}
	}
	return st, nil
}

func (s *SQLiteStore) ActiveByHash(ctx context.Context, hash string) (model.Story, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+storyColumns+` FROM stories WHERE canonical_hash = ? AND status != 'retracted'`, hash)
	return oneStory(row)
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (model.Story, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+storyColumns+` FROM stories WHERE id = ?`, id)
	return oneStory(row)
}

func oneStory(row *sql.Row) (model.Story, bool, error) {
	st, err := scanStory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Story{}, false, nil
	}
	if err != nil {
		return model.Story{}, false, fmt.Errorf("scan story: %w", err)
	}
	return st, true, nil
}

func (s *SQLiteStore) StoryIDForSignal(ctx context.Context, signalID string) (string, bool, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `SELECT story_id FROM story_signals WHERE signal_id = ?`, signalID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("lookup signal %s: %w", signalID, err)
	}
	return id, true, nil
}

// Save upserts the story and its signal and source indexes in one transaction.
func (s *SQLiteStore) Save(ctx context.Context, st model.Story) error {
	clubs, err := encodeList(st.Clubs)
	if err != nil {
		return err
	}
	signalIDs, err := encodeList(st.SignalIDs)
	if err != nil {
		return err
	}
	sourceIDs, err := encodeList(st.SourceIDs)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save story: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `INSERT INTO stories (`+storyColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			canonical_hash = excluded.canonical_hash,
			headline = excluded.headline,
			headline_confidence = excluded.headline_confidence,
			headline_at = excluded.headline_at,
			player = excluded.player,
			clubs = excluded.clubs,
			stage = excluded.stage,
			signal_ids = excluded.signal_ids,
			source_ids = excluded.source_ids,
			update_count = excluded.update_count,
			last_checked_at = excluded.last_checked_at,
			status = excluded.status,
			needs_review = excluded.needs_review`,
		st.ID, st.CanonicalHash, st.Headline, st.HeadlineConfidence, formatTime(st.HeadlineAt),
		st.Player, clubs, st.Stage.String(), signalIDs, sourceIDs, st.UpdateCount,
		formatTime(st.LastCheckedAt), formatTime(st.CreatedAt), string(st.Status), st.NeedsReview,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", story.ErrHashConflict, st.CanonicalHash)
		}
		return fmt.Errorf("save story %s: %w", st.ID, err)
	}
	for _, sig := range st.SignalIDs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO story_signals (signal_id, story_id) VALUES (?, ?)
			 ON CONFLICT(signal_id) DO UPDATE SET story_id = excluded.story_id`, sig, st.ID); err != nil {
			return fmt.Errorf("index signal %s: %w", sig, err)
		}
	}
	for _, src := range st.SourceIDs {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO story_sources (story_id, source_id) VALUES (?, ?)`, st.ID, src); err != nil {
			return fmt.Errorf("index source %s: %w", src, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit story %s: %w", st.ID, err)
	}
	return nil
}

func (s *SQLiteStore) Active(ctx context.Context) ([]model.Story, error) {
	return s.queryStories(ctx,
		`SELECT `+storyColumns+` FROM stories WHERE status != 'retracted' ORDER BY last_checked_at DESC, id`)
}

func (s *SQLiteStore) List(ctx context.Context, f story.Filter) ([]model.Story, error) {
	var (
		where []string
		args  []any
	)
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.NeedsReview {
		where = append(where, "needs_review = 1")
	}
	if f.SourceID != "" {
		where = append(where, "id IN (SELECT story_id FROM story_sources WHERE source_id = ?)")
		args = append(args, f.SourceID)
	}
	q := `SELECT ` + storyColumns + ` FROM stories`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY last_checked_at DESC, id"
	if f.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, f.Limit)
	}
	return s.queryStories(ctx, q, args...)
}

func (s *SQLiteStore) queryStories(ctx context.Context, q string, args ...any) ([]model.Story, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query stories: %w", err)
	}
	defer rows.Close()

	out := []model.Story{}
	for rows.Next() {
		st, err := scanStory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan story: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM stories`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count stories: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) SaveSignal(ctx context.Context, sig model.Signal) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO signals
		(id, source_id, text, observed_at, is_transfer_related, confidence)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			source_id = excluded.source_id,
			text = excluded.text,
			observed_at = excluded.observed_at,
			is_transfer_related = excluded.is_transfer_related,
			confidence = excluded.confidence`,
		sig.ID, sig.SourceID, sig.Text, formatTime(sig.ObservedAt), sig.IsTransferRelated, sig.Confidence)
	if err != nil {
		return fmt.Errorf("save signal %s: %w", sig.ID, err)
	}
	return nil
}

const signalColumns = `id, source_id, text, observed_at, is_transfer_related, confidence`

func scanSignal(r rowScanner) (model.Signal, error) {
	var (
		sig      model.Signal
		observed string
	)
	if err := r.Scan(&sig.ID, &sig.SourceID, &sig.Text, &observed, &sig.IsTransferRelated, &sig.Confidence); err != nil {
		return model.Signal{}, err
	}
	t, err := parseTime(observed)
	if err != nil {
		return model.Signal{}, err
	}
	sig.ObservedAt = t
	return sig, nil
}

func (s *SQLiteStore) GetSignal(ctx context.Context, id string) (model.Signal, bool, error) {
	sig, err := scanSignal(s.db.QueryRowContext(ctx, `SELECT `+signalColumns+` FROM signals WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Signal{}, false, nil
	}
	if err != nil {
		return model.Signal{}, false, fmt.Errorf("get signal %s: %w", id, err)
	}
	return sig, true, nil
}

func (s *SQLiteStore) SignalIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM signals ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query signal ids: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan signal id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// SignalsBySource returns the newest signals first.
func (s *SQLiteStore) SignalsBySource(ctx context.Context, sourceID string, limit int) ([]model.Signal, error) {
	q := `SELECT ` + signalColumns + ` FROM signals WHERE source_id = ? ORDER BY seq DESC`
	args := []any{sourceID}
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query signals for %s: %w", sourceID, err)
	}
	defer rows.Close()

	out := []model.Signal{}
	for rows.Next() {
		sig, err := scanSignal(rows)
		if err != nil {
			return nil, fmt.Errorf("scan signal: %w", err)
		}
		out = append(out, sig)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) SaveMetric(ctx context.Context, m model.ReliabilityMetric) error {
	hist, err := json.Marshal(m.HourHistogram)
	if err != nil {
		return fmt.Errorf("encode histogram: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO metrics (
			source_id, total_signals, transfer_related_signals, confirmed_outcomes, false_positives,
			accuracy_rate, average_response_time_minutes, trend, baseline, baseline_set,
			hour_histogram, last_updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(source_id) DO UPDATE SET
			total_signals = excluded.total_signals,
			transfer_related_signals = excluded.transfer_related_signals,
			confirmed_outcomes = excluded.confirmed_outcomes,
			false_positives = excluded.false_positives,
			accuracy_rate = excluded.accuracy_rate,
			average_response_time_minutes = excluded.average_response_time_minutes,
			trend = excluded.trend,
			baseline = excluded.baseline,
			baseline_set = excluded.baseline_set,
			hour_histogram = excluded.hour_histogram,
			last_updated_at = excluded.last_updated_at`,
		m.SourceID, m.TotalSignals, m.TransferRelatedSignals, m.ConfirmedOutcomes, m.FalsePositives,
		m.AccuracyRate, m.AverageResponseTimeMinutes, string(m.Trend), m.Baseline, m.BaselineSet,
		string(hist), formatTime(m.LastUpdatedAt))
	if err != nil {
		return fmt.Errorf("save metric %s: %w", m.SourceID, err)
	}
	return nil
}

func (s *SQLiteStore) LoadMetrics(ctx context.Context) ([]model.ReliabilityMetric, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT
			source_id, total_signals, transfer_related_signals, confirmed_outcomes, false_positives,
			accuracy_rate, average_response_time_minutes, trend, baseline, baseline_set,
			hour_histogram, last_updated_at
		FROM metrics ORDER BY source_id`)
	if err != nil {
		return nil, fmt.Errorf("query metrics: %w", err)
	}
	defer rows.Close()

	out := []model.ReliabilityMetric{}
	for rows.Next() {
		var (
			m           model.ReliabilityMetric
			trend, hist string
			updated     string
		)
		if err := rows.Scan(&m.SourceID, &m.TotalSignals, &m.TransferRelatedSignals, &m.ConfirmedOutcomes,
			&m.FalsePositives, &m.AccuracyRate, &m.AverageResponseTimeMinutes, &trend, &m.Baseline,
			&m.BaselineSet, &hist, &updated); err != nil {
			return nil, fmt.Errorf("scan metric: %w", err)
		}
		m.Trend = model.Trend(trend)
		if err := json.Unmarshal([]byte(hist), &m.HourHistogram); err != nil {
			return nil, fmt.Errorf("decode histogram for %s: %w", m.SourceID, err)
		}
		if m.LastUpdatedAt, err = parseTime(updated); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) SaveSource(ctx context.Context, src model.Source) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO sources (id, name, handle, region, tier, active, feed_url, kind)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			handle = excluded.handle,
			region = excluded.region,
			tier = excluded.tier,
			active = excluded.active,
			feed_url = excluded.feed_url,
			kind = excluded.kind`,
		src.ID, src.Name, src.Handle, string(src.Region), src.Tier, src.Active, src.FeedURL, string(src.Kind))
	if err != nil {
		return fmt.Errorf("save source %s: %w", src.ID, err)
	}
	return nil
}

func (s *SQLiteStore) ListSources(ctx context.Context) ([]model.Source, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, handle, region, tier, active, feed_url, kind FROM sources ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query sources: %w", err)
	}
	defer rows.Close()

	out := []model.Source{}
	for rows.Next() {
		var (
			src          model.Source
			region, kind string
		)
		if err := rows.Scan(&src.ID, &src.Name, &src.Handle, &region, &src.Tier, &src.Active, &src.FeedURL, &kind); err != nil {
			return nil, fmt.Errorf("scan source: %w", err)
		}
		src.Region = model.Region(region)
		src.Kind = model.SourceKind(kind)
		out = append(out, src)
	}
	return out, rows.Err()
}

func encodeList(v []string) (string, error) {
	if v == nil {
		v = []string{}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode list: %w", err)
	}
	return string(b), nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(tsLayout)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(tsLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t, nil
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
