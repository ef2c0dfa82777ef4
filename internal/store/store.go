// Package store persists per-user console preferences: GDPR consent and
// message feedback ratings.
package store

import (
	"context"
	"fmt"
	"time"

	apperrors "github.com/eternisai/salesintel/internal/errors"
	"github.com/eternisai/salesintel/internal/logger"
)

// Preferences are the small per-user settings kept between sessions.
type Preferences struct {
	UserID          string         `json:"userId"`
	GDPRConsent     bool           `json:"gdprConsent"`
	ConsentAt       *time.Time     `json:"consentAt,omitempty"`
	FeedbackRatings map[string]int `json:"feedbackRatings"`
	UpdatedAt       time.Time      `json:"updatedAt"`
}

// NewPreferences returns empty preferences for a user.
func NewPreferences(userID string) *Preferences {
	return &Preferences{UserID: userID, FeedbackRatings: map[string]int{}}
}

// SetConsent records the consent decision.
func (p *Preferences) SetConsent(consent bool, at time.Time) {
	p.GDPRConsent = consent
	if consent {
		at = at.UTC()
		p.ConsentAt = &at
	} else {
		p.ConsentAt = nil
	}
}

// Rate stores a 1 to 5 rating for a message.
func (p *Preferences) Rate(messageID string, rating int) error {
	const op = "store.rate"
	if messageID == "" {
		return apperrors.New(apperrors.KindInvalidInput, op, "message id is required")
	}
	if rating < 1 || rating > 5 {
		return apperrors.New(apperrors.KindInvalidInput, op, fmt.Sprintf("rating %d is outside 1..5", rating))
	}
	if p.FeedbackRatings == nil {
		p.FeedbackRatings = map[string]int{}
	}
	p.FeedbackRatings[messageID] = rating
	return nil
}

// Store persists Preferences. Load returns empty preferences for unknown
// users. Update runs fn on the current value and saves the result
// atomically.
type Store interface {
	Load(ctx context.Context, userID string) (*Preferences, error)
	Update(ctx context.Context, userID string, fn func(*Preferences) error) (*Preferences, error)
	Delete(ctx context.Context, userID string) error
	Close() error
}

// Config selects and configures a Store.
type Config struct {
	Driver          string // "file" or "postgres"
	Path            string
	DatabaseURL     string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Open returns the Store named by cfg.Driver.
func Open(ctx context.Context, cfg Config, log *logger.Logger) (Store, error) {
	switch cfg.Driver {
	case "", "file":
		return NewFileStore(cfg.Path, log)
	case "postgres":
		return NewPGStore(ctx, cfg, log)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}
