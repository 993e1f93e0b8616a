package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"crop-sell-advisor/internal/model"
)

const (
	insertPriceSQL = `INSERT INTO price_history (
        crop,
        market,
        price_date,
        state,
        modal_price,
        min_price,
        max_price,
        source
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8
    )
    ON CONFLICT (crop, market, price_date) DO NOTHING;`

	listPricesSinceSQL = `SELECT
        crop,
        market,
        price_date,
        state,
        modal_price::text,
        min_price::text,
        max_price::text,
        source
    FROM price_history
    WHERE crop = $1
      AND price_date >= $2
    ORDER BY price_date, market;`

	countPricesSQL = `SELECT COUNT(*) FROM price_history WHERE crop = $1;`

	insertRuleSQL = `INSERT INTO alert_rules (
        id,
        user_id,
        crop,
        market,
        kind,
        threshold_price,
        threshold_percent,
        channels,
        active,
        created_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10
    );`

	selectRuleColumns = `SELECT
        id,
        user_id,
        crop,
        market,
        kind,
        threshold_price::text,
        threshold_percent::text,
        channels,
        active,
        last_triggered_at,
        created_at
    FROM alert_rules`

	setRuleActiveSQL = `UPDATE alert_rules SET active = $2 WHERE id = $1;`

	claimAlertTriggerSQL = `UPDATE alert_rules
    SET last_triggered_at = $2
    WHERE id = $1
      AND active
      AND (last_triggered_at IS NULL OR last_triggered_at <= $3)
    RETURNING id;`

	insertDecisionSQL = `INSERT INTO decisions (
        id,
        crop,
        city,
        action,
        confidence,
        risk,
        reasoning,
        target_date,
        target_price,
        current_price,
        predicted_price,
        bullish_score,
        bearish_score,
        signals,
        data_tier,
        insights,
        duration_ms,
        created_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18
    );`

	listRecentDecisionsSQL = `SELECT
        id,
        crop,
        city,
        action,
        confidence,
        risk,
        reasoning,
        target_date,
        target_price::float8,
        current_price::float8,
        predicted_price::float8,
        bullish_score,
        bearish_score,
        signals,
        data_tier,
        insights,
        duration_ms,
        created_at
    FROM decisions
    WHERE ($1 = '' OR crop = $1)
    ORDER BY created_at DESC
    LIMIT $2;`

	insertNotificationSQL = `INSERT INTO notifications (
        id,
        user_id,
        kind,
        title,
        message,
        priority,
        channels,
        delivered,
        error,
        created_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10
    );`

	listRecentNotificationsSQL = `SELECT
        id,
        user_id,
        kind,
        title,
        message,
        priority,
        channels,
        delivered,
        error,
        created_at
    FROM notifications
    ORDER BY created_at DESC
    LIMIT $1;`

	upsertWatchSQL = `INSERT INTO watches (
        user_id,
        crop,
        city,
        risk_tolerance,
        channels
    ) VALUES (
        $1,$2,$3,$4,$5
    )
    ON CONFLICT (user_id, crop) DO UPDATE
    SET city           = EXCLUDED.city,
        risk_tolerance = EXCLUDED.risk_tolerance,
        channels       = EXCLUDED.channels;`

	listWatchesSQL = `SELECT user_id, crop, city, risk_tolerance, channels FROM watches ORDER BY user_id, crop;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// Store is the PostgreSQL backend.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Migrate creates missing tables.
func (s *Store) Migrate(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	for _, stmt := range schemaStatements(postgresSchema) {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// best effort; the session lock dies with the connection anyway
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// PricesSince lists stored points for crop dated on or after since, ascending.
func (s *Store) PricesSince(ctx context.Context, crop string, since time.Time) (model.Series, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listPricesSinceSQL, model.NormalizeCrop(crop), model.Day(since))
	if queryErr != nil {
		return nil, fmt.Errorf("list prices since: %w", queryErr)
	}
	defer rows.Close()

	series := make(model.Series, 0)
	for rows.Next() {
		var (
			p                model.PricePoint
			modalStr, source string
			minStr, maxStr   *string
		)
		if err := rows.Scan(&p.Crop, &p.Market, &p.Date, &p.State, &modalStr, &minStr, &maxStr, &source); err != nil {
			return nil, err
		}
		modal, err := decimal.NewFromString(modalStr)
		if err != nil {
			return nil, fmt.Errorf("parse modal price: %w", err)
		}
		p.Price = modal.InexactFloat64()
		p.Date = model.Day(p.Date)
		p.Source = model.SourceTag(source)
		if lo, err := parseOptionalDecimal(minStr); err == nil && lo != nil {
			p.MinPrice = model.Float(lo.InexactFloat64())
		}
		if hi, err := parseOptionalDecimal(maxStr); err == nil && hi != nil {
			p.MaxPrice = model.Float(hi.InexactFloat64())
		}
		series = append(series, p)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return series, nil
}

// UpsertPrices inserts new points in one batch; duplicates are skipped.
func (s *Store) UpsertPrices(ctx context.Context, points model.Series) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	if len(points) == 0 {
		return 0, nil
	}

	batch := &pgx.Batch{}
	for _, p := range points {
		var lo, hi any
		if p.MinPrice != nil {
			lo = decimal.NewFromFloat(*p.MinPrice).String()
		}
		if p.MaxPrice != nil {
			hi = decimal.NewFromFloat(*p.MaxPrice).String()
		}
		batch.Queue(insertPriceSQL,
			model.NormalizeCrop(p.Crop),
			p.Market,
			p.Day(),
			p.State,
			decimal.NewFromFloat(p.Price).String(),
			lo,
			hi,
			string(p.Source),
		)
	}

	br := pool.SendBatch(ctx, batch)
	defer br.Close()

	var inserted int64
	for range points {
		tag, execErr := br.Exec()
		if execErr != nil {
			return inserted, fmt.Errorf("upsert prices: %w", execErr)
		}
		inserted += tag.RowsAffected()
	}
	return inserted, nil
}

// CountPrices counts stored rows for crop.
func (s *Store) CountPrices(ctx context.Context, crop string) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countPricesSQL, model.NormalizeCrop(crop)).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count prices: %w", scanErr)
	}
	return count, nil
}

// CreateRule validates and persists a new alert rule.
func (s *Store) CreateRule(ctx context.Context, rule model.AlertRule) (model.AlertRule, error) {
	pool, err := s.getPool()
	if err != nil {
		return model.AlertRule{}, err
	}
	rule = prepareRule(rule)
	if err := rule.Validate(); err != nil {
		return model.AlertRule{}, err
	}

	if _, execErr := pool.Exec(ctx, insertRuleSQL,
		rule.ID,
		rule.UserID,
		rule.Crop,
		rule.Market,
		string(rule.Kind),
		decimalString(rule.ThresholdPrice),
		decimalString(rule.ThresholdPercent),
		rule.Channels,
		rule.Active,
		rule.CreatedAt,
	); execErr != nil {
		return model.AlertRule{}, fmt.Errorf("insert alert rule: %w", execErr)
	}
	return rule, nil
}

// GetRule loads one rule by id.
func (s *Store) GetRule(ctx context.Context, id uuid.UUID) (model.AlertRule, error) {
	pool, err := s.getPool()
	if err != nil {
		return model.AlertRule{}, err
	}
	rule, scanErr := scanPgRule(pool.QueryRow(ctx, selectRuleColumns+` WHERE id = $1;`, id))
	if errors.Is(scanErr, pgx.ErrNoRows) {
		return model.AlertRule{}, ErrNotFound
	}
	if scanErr != nil {
		return model.AlertRule{}, fmt.Errorf("get alert rule: %w", scanErr)
	}
	return rule, nil
}

// ListRules lists the rules of a user, or every rule when userID is zero.
func (s *Store) ListRules(ctx context.Context, userID int64) ([]model.AlertRule, error) {
	return s.queryRules(ctx, selectRuleColumns+` WHERE ($1 = 0 OR user_id = $1) ORDER BY created_at;`, userID)
}

// ListActiveRules lists rules eligible for the alert sweep.
func (s *Store) ListActiveRules(ctx context.Context) ([]model.AlertRule, error) {
	return s.queryRules(ctx, selectRuleColumns+` WHERE active ORDER BY created_at;`)
}

func (s *Store) queryRules(ctx context.Context, query string, args ...any) ([]model.AlertRule, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	rows, queryErr := pool.Query(ctx, query, args...)
	if queryErr != nil {
		return nil, fmt.Errorf("list alert rules: %w", queryErr)
	}
	defer rows.Close()

	rules := make([]model.AlertRule, 0)
	for rows.Next() {
		rule, scanErr := scanPgRule(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		rules = append(rules, rule)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return rules, nil
}

// SetRuleActive toggles a rule.
func (s *Store) SetRuleActive(ctx context.Context, id uuid.UUID, active bool) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	tag, execErr := pool.Exec(ctx, setRuleActiveSQL, id, active)
	if execErr != nil {
		return fmt.Errorf("set rule active: %w", execErr)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ClaimAlertTrigger advances last_triggered_at under the row lock taken by UPDATE.
func (s *Store) ClaimAlertTrigger(ctx context.Context, id uuid.UUID, now time.Time, cooldown time.Duration) (bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return false, err
	}
	var claimed uuid.UUID
	scanErr := pool.QueryRow(ctx, claimAlertTriggerSQL, id, now.UTC(), now.Add(-cooldown).UTC()).Scan(&claimed)
	if errors.Is(scanErr, pgx.ErrNoRows) {
		return false, nil
	}
	if scanErr != nil {
		return false, fmt.Errorf("claim alert trigger: %w", scanErr)
	}
	return true, nil
}

// InsertDecision appends a decision to the audit trail.
func (s *Store) InsertDecision(ctx context.Context, d model.Decision) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	signals, err := json.Marshal(d.Signals)
	if err != nil {
		return fmt.Errorf("encode signals: %w", err)
	}

	var targetDate any
	if d.TargetDate != nil {
		targetDate = model.Day(*d.TargetDate)
	}

	if _, execErr := pool.Exec(ctx, insertDecisionSQL,
		d.ID,
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
		signals,
		string(d.DataTier),
		d.Insights,
		d.Duration.Milliseconds(),
		d.CreatedAt.UTC(),
	); execErr != nil {
		return fmt.Errorf("insert decision: %w", execErr)
	}
	return nil
}

// ListRecentDecisions lists the latest decisions, optionally for one crop.
func (s *Store) ListRecentDecisions(ctx context.Context, crop string, limit int) ([]model.Decision, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	rows, queryErr := pool.Query(ctx, listRecentDecisionsSQL, model.NormalizeCrop(crop), limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent decisions: %w", queryErr)
	}
	defer rows.Close()

	out := make([]model.Decision, 0, limit)
	for rows.Next() {
		var (
			d                  model.Decision
			action, risk, tier string
			signals            []byte
			durationMS         int64
		)
		if err := rows.Scan(
			&d.ID,
			&d.Crop,
			&d.City,
			&action,
			&d.Confidence,
			&risk,
			&d.Reasoning,
			&d.TargetDate,
			&d.TargetPrice,
			&d.CurrentPrice,
			&d.PredictedPrice,
			&d.BullishScore,
			&d.BearishScore,
			&signals,
			&tier,
			&d.Insights,
			&durationMS,
			&d.CreatedAt,
		); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(signals, &d.Signals); err != nil {
			return nil, fmt.Errorf("decode signals: %w", err)
		}
		d.Action = model.Action(action)
		d.Risk = model.Risk(risk)
		d.DataTier = model.DataTier(tier)
		d.Duration = time.Duration(durationMS) * time.Millisecond
		out = append(out, d)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

// InsertNotification audits a dispatched notification.
func (s *Store) InsertNotification(ctx context.Context, rec model.NotificationRecord) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	rec = prepareNotification(rec)
	if _, execErr := pool.Exec(ctx, insertNotificationSQL,
		rec.ID,
		rec.UserID,
		string(rec.Kind),
		rec.Title,
		rec.Message,
		rec.Priority,
		rec.Channels,
		rec.Delivered,
		rec.Error,
		rec.CreatedAt,
	); execErr != nil {
		return fmt.Errorf("insert notification: %w", execErr)
	}
	return nil
}

// ListRecentNotifications lists the latest notifications.
func (s *Store) ListRecentNotifications(ctx context.Context, limit int) ([]model.NotificationRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	rows, queryErr := pool.Query(ctx, listRecentNotificationsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent notifications: %w", queryErr)
	}
	defer rows.Close()

	out := make([]model.NotificationRecord, 0, limit)
	for rows.Next() {
		var rec model.NotificationRecord
		var kind string
		if err := rows.Scan(
			&rec.ID,
			&rec.UserID,
			&kind,
			&rec.Title,
			&rec.Message,
			&rec.Priority,
			&rec.Channels,
			&rec.Delivered,
			&rec.Error,
			&rec.CreatedAt,
		); err != nil {
			return nil, err
		}
		rec.Kind = model.NotificationKind(kind)
		out = append(out, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

// UpsertWatch creates or updates a tracked (user, crop) pair.
func (s *Store) UpsertWatch(ctx context.Context, w model.Watch) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	w = prepareWatch(w)
	if _, execErr := pool.Exec(ctx, upsertWatchSQL, w.UserID, w.Crop, w.City, string(w.RiskTolerance), w.Channels); execErr != nil {
		return fmt.Errorf("upsert watch: %w", execErr)
	}
	return nil
}

// ListWatches lists every tracked (user, crop) pair.
func (s *Store) ListWatches(ctx context.Context) ([]model.Watch, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	rows, queryErr := pool.Query(ctx, listWatchesSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("list watches: %w", queryErr)
	}
	defer rows.Close()

	out := make([]model.Watch, 0)
	for rows.Next() {
		var w model.Watch
		var tolerance string
		if err := rows.Scan(&w.UserID, &w.Crop, &w.City, &tolerance, &w.Channels); err != nil {
			return nil, err
		}
		w.RiskTolerance = model.RiskTolerance(tolerance)
		out = append(out, w)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPgRule(row rowScanner) (model.AlertRule, error) {
	var (
		rule                 model.AlertRule
		kind                 string
		priceStr, percentStr *string
	)
	if err := row.Scan(
		&rule.ID,
		&rule.UserID,
		&rule.Crop,
		&rule.Market,
		&kind,
		&priceStr,
		&percentStr,
		&rule.Channels,
		&rule.Active,
		&rule.LastTriggeredAt,
		&rule.CreatedAt,
	); err != nil {
		return model.AlertRule{}, err
	}
	return finishRule(rule, kind, priceStr, percentStr)
}

func finishRule(rule model.AlertRule, kind string, priceStr, percentStr *string) (model.AlertRule, error) {
	rule.Kind = model.AlertKind(kind)
	var err error
	if rule.ThresholdPrice, err = parseOptionalDecimal(priceStr); err != nil {
		return model.AlertRule{}, fmt.Errorf("parse threshold price: %w", err)
	}
	if rule.ThresholdPercent, err = parseOptionalDecimal(percentStr); err != nil {
		return model.AlertRule{}, fmt.Errorf("parse threshold percent: %w", err)
	}
	return rule, nil
}

func prepareRule(rule model.AlertRule) model.AlertRule {
	if rule.ID == uuid.Nil {
		rule.ID = uuid.New()
	}
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = time.Now().UTC()
	}
	rule.Crop = model.NormalizeCrop(rule.Crop)
	return rule
}

func prepareNotification(rec model.NotificationRecord) model.NotificationRecord {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	if rec.Channels == nil {
		rec.Channels = []string{}
	}
	return rec
}

func prepareWatch(w model.Watch) model.Watch {
	w.Crop = model.NormalizeCrop(w.Crop)
	if w.RiskTolerance == "" {
		w.RiskTolerance = model.ToleranceMedium
	}
	if w.Channels == nil {
		w.Channels = []string{}
	}
	return w
}

var (
	_ Backend        = (*Store)(nil)
	_ AdvisoryLocker = (*Store)(nil)
)
