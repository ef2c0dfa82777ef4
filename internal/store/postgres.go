package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"

	"github.com/eternisai/salesintel/internal/logger"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// PGStore keeps preferences in Postgres.
type PGStore struct {
	db     *sql.DB
	logger *logger.Logger
}

// NewPGStore connects, applies pending migrations and returns the store.
func NewPGStore(ctx context.Context, cfg Config, log *logger.Logger) (*PGStore, error) {
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := RunMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &PGStore{db: db, logger: log.WithComponent("store")}, nil
}

// RunMigrations applies the embedded migrations.
func RunMigrations(db *sql.DB) error {
	goose.SetBaseFS(embedMigrations)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}
	return goose.Up(db, "migrations")
}

func (s *PGStore) Load(ctx context.Context, userID string) (*Preferences, error) {
	return s.load(ctx, s.db, userID, false)
}

func (s *PGStore) Update(ctx context.Context, userID string, fn func(*Preferences) error) (*Preferences, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	prefs, err := s.load(ctx, tx, userID, true)
	if err != nil {
		return nil, err
	}
	if err := fn(prefs); err != nil {
		return nil, err
	}
	prefs.UserID = userID
	prefs.UpdatedAt = time.Now().UTC()

	ratings, err := json.Marshal(prefs.FeedbackRatings)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal ratings: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO user_preferences (user_id, gdpr_consent, consent_at, feedback_ratings, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id) DO UPDATE SET
			gdpr_consent = EXCLUDED.gdpr_consent,
			consent_at = EXCLUDED.consent_at,
			feedback_ratings = EXCLUDED.feedback_ratings,
			updated_at = EXCLUDED.updated_at`,
		userID, prefs.GDPRConsent, prefs.ConsentAt, ratings, prefs.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to save preferences: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit preferences: %w", err)
	}
	s.logger.Debug("preferences saved", slog.String("user_id", userID))
	return prefs, nil
}

func (s *PGStore) Delete(ctx context.Context, userID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM user_preferences WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("failed to delete preferences: %w", err)
	}
	s.logger.Info("preferences deleted", slog.String("user_id", userID))
	return nil
}

func (s *PGStore) Close() error {
	return s.db.Close()
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *PGStore) load(ctx context.Context, q queryer, userID string, forUpdate bool) (*Preferences, error) {
	query := `SELECT gdpr_consent, consent_at, feedback_ratings, updated_at
		FROM user_preferences WHERE user_id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	var (
		prefs     = NewPreferences(userID)
		consentAt sql.NullTime
		ratings   []byte
	)
	err := q.QueryRowContext(ctx, query, userID).Scan(&prefs.GDPRConsent, &consentAt, &ratings, &prefs.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return prefs, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load preferences: %w", err)
	}

	if consentAt.Valid {
		t := consentAt.Time
		prefs.ConsentAt = &t
	}
	if len(ratings) > 0 {
		if err := json.Unmarshal(ratings, &prefs.FeedbackRatings); err != nil {
			return nil, fmt.Errorf("failed to decode ratings: %w", err)
		}
	}
	return prefs, nil
}
