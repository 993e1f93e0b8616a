package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"crop-sell-advisor/internal/model"
)

// SQLiteStore is the embedded single-file backend. All writes go through one
// connection, so conditional updates are serialised by SQLite itself.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (and creates) the database at dsn.
func OpenSQLite(ctx context.Context, dsn string) (*SQLiteStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	for _, pragma := range []string{"PRAGMA journal_mode = WAL;", "PRAGMA busy_timeout = 5000;"} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply %q: %w", pragma, err)
		}
	}
	return &SQLiteStore{db: db}, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() {
	if s == nil || s.db == nil {
		return
	}
	_ = s.db.Close()
}

func (s *SQLiteStore) getDB() (*sql.DB, error) {
	if s == nil || s.db == nil {
		return nil, ErrNotConfigured
	}
	return s.db, nil
}

// Migrate creates missing tables.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}
	for _, stmt := range schemaStatements(sqliteSchema) {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

// PricesSince lists stored points for crop dated on or after since, ascending.
func (s *SQLiteStore) PricesSince(ctx context.Context, crop string, since time.Time) (model.Series, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `SELECT crop, market, price_date, state, modal_price, min_price, max_price, source
        FROM price_history
        WHERE crop = ? AND price_date >= ?
        ORDER BY price_date, market;`,
		model.NormalizeCrop(crop), model.Day(since).Format(model.DateLayout))
	if err != nil {
		return nil, fmt.Errorf("list prices since: %w", err)
	}
	defer rows.Close()

	series := make(model.Series, 0)
	for rows.Next() {
		var (
			p              model.PricePoint
			day, source    string
			minVal, maxVal sql.NullFloat64
		)
		if err := rows.Scan(&p.Crop, &p.Market, &day, &p.State, &p.Price, &minVal, &maxVal, &source); err != nil {
			return nil, err
		}
		date, err := time.Parse(model.DateLayout, day)
		if err != nil {
			return nil, fmt.Errorf("parse price date: %w", err)
		}
		p.Date = date
		p.Source = model.SourceTag(source)
		if minVal.Valid {
			p.MinPrice = model.Float(minVal.Float64)
		}
		if maxVal.Valid {
			p.MaxPrice = model.Float(maxVal.Float64)
		}
		series = append(series, p)
	}
	return series, rows.Err()
}

// UpsertPrices inserts new points in one transaction; duplicates are skipped.
func (s *SQLiteStore) UpsertPrices(ctx context.Context, points model.Series) (int64, error) {
	db, err := s.getDB()
	if err != nil {
		return 0, err
	}
	if len(points) == 0 {
		return 0, nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin upsert prices: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO price_history
        (crop, market, price_date, state, modal_price, min_price, max_price, source, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT (crop, market, price_date) DO NOTHING;`)
	if err != nil {
		return 0, fmt.Errorf("prepare upsert prices: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UnixMilli()
	var inserted int64
	for _, p := range points {
		res, err := stmt.ExecContext(ctx,
			model.NormalizeCrop(p.Crop),
			p.Market,
			p.DayKey(),
			p.State,
			p.Price,
			optionalFloat(p.MinPrice),
			optionalFloat(p.MaxPrice),
			string(p.Source),
			now,
		)
		if err != nil {
			return 0, fmt.Errorf("upsert prices: %w", err)
		}
		n, _ := res.RowsAffected()
		inserted += n
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit upsert prices: %w", err)
	}
	return inserted, nil
}

// CountPrices counts stored rows for crop.
func (s *SQLiteStore) CountPrices(ctx context.Context, crop string) (int64, error) {
	db, err := s.getDB()
	if err != nil {
		return 0, err
	}
	var count int64
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM price_history WHERE crop = ?;`, model.NormalizeCrop(crop)).Scan(&count); err != nil {
		return 0, fmt.Errorf("count prices: %w", err)
	}
	return count, nil
}

const sqliteRuleColumns = `SELECT id, user_id, crop, market, kind, threshold_price, threshold_percent,
        channels, active, last_triggered_at, created_at FROM alert_rules`

// CreateRule validates and persists a new alert rule.
func (s *SQLiteStore) CreateRule(ctx context.Context, rule model.AlertRule) (model.AlertRule, error) {
	db, err := s.getDB()
	if err != nil {
		return model.AlertRule{}, err
	}
	rule = prepareRule(rule)
	if err := rule.Validate(); err != nil {
		return model.AlertRule{}, err
	}
	if _, err := db.ExecContext(ctx, `INSERT INTO alert_rules
        (id, user_id, crop, market, kind, threshold_price, threshold_percent, channels, active, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`,
		rule.ID.String(),
		rule.UserID,
		rule.Crop,
		rule.Market,
		string(rule.Kind),
		decimalString(rule.ThresholdPrice),
		decimalString(rule.ThresholdPercent),
		joinChannels(rule.Channels),
		rule.Active,
		rule.CreatedAt.UnixMilli(),
	); err != nil {
		return model.AlertRule{}, fmt.Errorf("insert alert rule: %w", err)
	}
	return rule, nil
}

// GetRule loads one rule by id.
func (s *SQLiteStore) GetRule(ctx context.Context, id uuid.UUID) (model.AlertRule, error) {
	db, err := s.getDB()
	if err != nil {
		return model.AlertRule{}, err
	}
	rule, err := scanSQLiteRule(db.QueryRowContext(ctx, sqliteRuleColumns+` WHERE id = ?;`, id.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return model.AlertRule{}, ErrNotFound
	}
	if err != nil {
		return model.AlertRule{}, fmt.Errorf("get alert rule: %w", err)
	}
	return rule, nil
}

// ListRules lists the rules of a user, or every rule when userID is zero.
func (s *SQLiteStore) ListRules(ctx context.Context, userID int64) ([]model.AlertRule, error) {
	return s.queryRules(ctx, sqliteRuleColumns+` WHERE (? = 0 OR user_id = ?) ORDER BY created_at;`, userID, userID)
}

// ListActiveRules lists rules eligible for the alert sweep.
func (s *SQLiteStore) ListActiveRules(ctx context.Context) ([]model.AlertRule, error) {
	return s.queryRules(ctx, sqliteRuleColumns+` WHERE active = 1 ORDER BY created_at;`)
}

func (s *SQLiteStore) queryRules(ctx context.Context, query string, args ...any) ([]model.AlertRule, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list alert rules: %w", err)
	}
	defer rows.Close()

	rules := make([]model.AlertRule, 0)
	for rows.Next() {
		rule, err := scanSQLiteRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

// SetRuleActive toggles a rule.
func (s *SQLiteStore) SetRuleActive(ctx context.Context, id uuid.UUID, active bool) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}
	res, err := db.ExecContext(ctx, `UPDATE alert_rules SET active = ? WHERE id = ?;`, active, id.String())
	if err != nil {
		return fmt.Errorf("set rule active: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ClaimAlertTrigger advances last_triggered_at with a single conditional update.
func (s *SQLiteStore) ClaimAlertTrigger(ctx context.Context, id uuid.UUID, now time.Time, cooldown time.Duration) (bool, error) {
	db, err := s.getDB()
	if err != nil {
		return false, err
	}
	var claimed string
	err = db.QueryRowContext(ctx, `UPDATE alert_rules
        SET last_triggered_at = ?
        WHERE id = ?
          AND active = 1
          AND (last_triggered_at IS NULL OR last_triggered_at <= ?)
        RETURNING id;`,
		now.UnixMilli(), id.String(), now.Add(-cooldown).UnixMilli(),
	).Scan(&claimed)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("claim alert trigger: %w", err)
	}
	return true, nil
}

// InsertDecision appends a decision to the audit trail.
func (s *SQLiteStore) InsertDecision(ctx context.Context, d model.Decision) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}
	signals, err := json.Marshal(d.Signals)
	if err != nil {
		return fmt.Errorf("encode signals: %w", err)
	}
	var targetDate any
	if d.TargetDate != nil {
		targetDate = model.Day(*d.TargetDate).Format(model.DateLayout)
	}
	if _, err := db.ExecContext(ctx, `INSERT INTO decisions
        (id, crop, city, action, confidence, risk, reasoning, target_date, target_price, current_price,
         predicted_price, bullish_score, bearish_score, signals, data_tier, insights, duration_ms, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`,
		d.ID.String(),
		d.Crop,
		d.City,
		string(d.Action),
		d.Confidence,
		string(d.Risk),
		d.Reasoning,
		targetDate,
		optionalFloat(d.TargetPrice),
		d.CurrentPrice,
		optionalFloat(d.PredictedPrice),
		d.BullishScore,
		d.BearishScore,
		string(signals),
		string(d.DataTier),
		d.Insights,
		d.Duration.Milliseconds(),
		d.CreatedAt.UnixMilli(),
	); err != nil {
		return fmt.Errorf("insert decision: %w", err)
	}
	return nil
}

// ListRecentDecisions lists the latest decisions, optionally for one crop.
func (s *SQLiteStore) ListRecentDecisions(ctx context.Context, crop string, limit int) ([]model.Decision, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}
	crop = model.NormalizeCrop(crop)
	rows, err := db.QueryContext(ctx, `SELECT id, crop, city, action, confidence, risk, reasoning, target_date,
        target_price, current_price, predicted_price, bullish_score, bearish_score, signals, data_tier,
        insights, duration_ms, created_at
        FROM decisions
        WHERE (? = '' OR crop = ?)
        ORDER BY created_at DESC
        LIMIT ?;`, crop, crop, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent decisions: %w", err)
	}
	defer rows.Close()

	out := make([]model.Decision, 0)
	for rows.Next() {
		var (
			d                       model.Decision
			id, action, risk, tier  string
			signals                 string
			targetDate              sql.NullString
			targetPrice, predicted  sql.NullFloat64
			durationMS, createdAtMS int64
		)
		if err := rows.Scan(&id, &d.Crop, &d.City, &action, &d.Confidence, &risk, &d.Reasoning, &targetDate,
			&targetPrice, &d.CurrentPrice, &predicted, &d.BullishScore, &d.BearishScore, &signals, &tier,
			&d.Insights, &durationMS, &createdAtMS); err != nil {
			return nil, err
		}
		if d.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("parse decision id: %w", err)
		}
		if err := json.Unmarshal([]byte(signals), &d.Signals); err != nil {
			return nil, fmt.Errorf("decode signals: %w", err)
		}
		if targetDate.Valid {
			if td, err := time.Parse(model.DateLayout, targetDate.String); err == nil {
				d.TargetDate = &td
			}
		}
		if targetPrice.Valid {
			d.TargetPrice = model.Float(targetPrice.Float64)
		}
		if predicted.Valid {
			d.PredictedPrice = model.Float(predicted.Float64)
		}
		d.Action = model.Action(action)
		d.Risk = model.Risk(risk)
		d.DataTier = model.DataTier(tier)
		d.Duration = time.Duration(durationMS) * time.Millisecond
		d.CreatedAt = fromUnixMilli(createdAtMS)
		out = append(out, d)
	}
	return out, rows.Err()
}

// InsertNotification audits a dispatched notification.
func (s *SQLiteStore) InsertNotification(ctx context.Context, rec model.NotificationRecord) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}
	rec = prepareNotification(rec)
	var errMsg any
	if rec.Error != nil {
		errMsg = *rec.Error
	}
	if _, err := db.ExecContext(ctx, `INSERT INTO notifications
        (id, user_id, kind, title, message, priority, channels, delivered, error, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`,
		rec.ID.String(),
		rec.UserID,
		string(rec.Kind),
		rec.Title,
		rec.Message,
		rec.Priority,
		joinChannels(rec.Channels),
		rec.Delivered,
		errMsg,
		rec.CreatedAt.UnixMilli(),
	); err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

// ListRecentNotifications lists the latest notifications.
func (s *SQLiteStore) ListRecentNotifications(ctx context.Context, limit int) ([]model.NotificationRecord, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `SELECT id, user_id, kind, title, message, priority, channels, delivered, error, created_at
        FROM notifications
        ORDER BY created_at DESC
        LIMIT ?;`, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent notifications: %w", err)
	}
	defer rows.Close()

	out := make([]model.NotificationRecord, 0)
	for rows.Next() {
		var (
			rec                model.NotificationRecord
			id, kind, channels string
			errMsg             sql.NullString
			createdAtMS        int64
		)
		if err := rows.Scan(&id, &rec.UserID, &kind, &rec.Title, &rec.Message, &rec.Priority, &channels,
			&rec.Delivered, &errMsg, &createdAtMS); err != nil {
			return nil, err
		}
		if rec.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("parse notification id: %w", err)
		}
		rec.Kind = model.NotificationKind(kind)
		rec.Channels = splitChannels(channels)
		if errMsg.Valid {
			msg := errMsg.String
			rec.Error = &msg
		}
		rec.CreatedAt = fromUnixMilli(createdAtMS)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// UpsertWatch creates or updates a tracked (user, crop) pair.
func (s *SQLiteStore) UpsertWatch(ctx context.Context, w model.Watch) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}
	w = prepareWatch(w)
	if _, err := db.ExecContext(ctx, `INSERT INTO watches (user_id, crop, city, risk_tolerance, channels)
        VALUES (?, ?, ?, ?, ?)
        ON CONFLICT (user_id, crop) DO UPDATE
        SET city = excluded.city,
            risk_tolerance = excluded.risk_tolerance,
            channels = excluded.channels;`,
		w.UserID, w.Crop, w.City, string(w.RiskTolerance), joinChannels(w.Channels),
	); err != nil {
		return fmt.Errorf("upsert watch: %w", err)
	}
	return nil
}

// ListWatches lists every tracked (user, crop) pair.
func (s *SQLiteStore) ListWatches(ctx context.Context) ([]model.Watch, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `SELECT user_id, crop, city, risk_tolerance, channels FROM watches ORDER BY user_id, crop;`)
	if err != nil {
		return nil, fmt.Errorf("list watches: %w", err)
	}
	defer rows.Close()

	out := make([]model.Watch, 0)
	for rows.Next() {
		var w model.Watch
		var tolerance, channels string
		if err := rows.Scan(&w.UserID, &w.Crop, &w.City, &tolerance, &channels); err != nil {
			return nil, err
		}
		w.RiskTolerance = model.RiskTolerance(tolerance)
		w.Channels = splitChannels(channels)
		out = append(out, w)
	}
	return out, rows.Err()
}

func scanSQLiteRule(row rowScanner) (model.AlertRule, error) {
	var (
		rule                 model.AlertRule
		id, kind, channels   string
		priceStr, percentStr sql.NullString
		lastTriggered        sql.NullInt64
		createdAtMS          int64
	)
	if err := row.Scan(&id, &rule.UserID, &rule.Crop, &rule.Market, &kind, &priceStr, &percentStr,
		&channels, &rule.Active, &lastTriggered, &createdAtMS); err != nil {
		return model.AlertRule{}, err
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return model.AlertRule{}, fmt.Errorf("parse rule id: %w", err)
	}
	rule.ID = parsed
	rule.Channels = splitChannels(channels)
	rule.CreatedAt = fromUnixMilli(createdAtMS)
	if lastTriggered.Valid {
		ts := fromUnixMilli(lastTriggered.Int64)
		rule.LastTriggeredAt = &ts
	}
	return finishRule(rule, kind, nullStringPtr(priceStr), nullStringPtr(percentStr))
}

func nullStringPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	return &v.String
}

var _ Backend = (*SQLiteStore)(nil)
