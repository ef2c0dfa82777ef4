package store

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/eternisai/salesintel/internal/errors"
	"github.com/eternisai/salesintel/internal/logger"
)

func TestPreferencesRate(t *testing.T) {
	p := NewPreferences("u-1")

	require.NoError(t, p.Rate("m1", 5))
	assert.Equal(t, 5, p.FeedbackRatings["m1"])

	for _, bad := range []int{0, 6, -1} {
		err := p.Rate("m1", bad)
		assert.True(t, apperrors.IsKind(err, apperrors.KindInvalidInput), "rating %d", bad)
	}
	assert.True(t, apperrors.IsKind(p.Rate("", 3), apperrors.KindInvalidInput))
}

func TestPreferencesConsent(t *testing.T) {
	p := NewPreferences("u-1")
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	p.SetConsent(true, now)
	assert.True(t, p.GDPRConsent)
	require.NotNil(t, p.ConsentAt)
	assert.Equal(t, now, *p.ConsentAt)

	p.SetConsent(false, now)
	assert.False(t, p.GDPRConsent)
	assert.Nil(t, p.ConsentAt)
}

func newFileStore(t *testing.T) *FileStore {
	t.Helper()
	s, err := NewFileStore(t.TempDir(), logger.Discard())
	require.NoError(t, err)
	return s
}

func TestFileStoreLoadUnknownUser(t *testing.T) {
	s := newFileStore(t)

	p, err := s.Load(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Equal(t, "nobody", p.UserID)
	assert.False(t, p.GDPRConsent)
	assert.Empty(t, p.FeedbackRatings)
}

func TestFileStoreUpdateAndDelete(t *testing.T) {
	s := newFileStore(t)
	ctx := context.Background()

	_, err := s.Update(ctx, "u/1", func(p *Preferences) error {
		p.SetConsent(true, time.Now())
		return p.Rate("m1", 4)
	})
	require.NoError(t, err)

	loaded, err := s.Load(ctx, "u/1")
	require.NoError(t, err)
	assert.True(t, loaded.GDPRConsent)
	assert.Equal(t, map[string]int{"m1": 4}, loaded.FeedbackRatings)
	assert.False(t, loaded.UpdatedAt.IsZero())

	require.NoError(t, s.Delete(ctx, "u/1"))
	require.NoError(t, s.Delete(ctx, "u/1"))

	loaded, err = s.Load(ctx, "u/1")
	require.NoError(t, err)
	assert.False(t, loaded.GDPRConsent)
}

func TestFileStoreUpdateErrorLeavesFile(t *testing.T) {
	s := newFileStore(t)
	ctx := context.Background()

	_, err := s.Update(ctx, "u-1", func(p *Preferences) error { return p.Rate("m1", 2) })
	require.NoError(t, err)

	boom := errors.New("boom")
	_, err = s.Update(ctx, "u-1", func(p *Preferences) error {
		p.FeedbackRatings["m1"] = 5
		return boom
	})
	assert.ErrorIs(t, err, boom)

	loaded, err := s.Load(ctx, "u-1")
	require.NoError(t, err)
	assert.Equal(t, 2, loaded.FeedbackRatings["m1"])
}

func TestFileStoreConcurrentUpdates(t *testing.T) {
	s := newFileStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.Update(ctx, "u-1", func(p *Preferences) error {
				return p.Rate(string(rune('a'+i)), 1+i%5)
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	loaded, err := s.Load(ctx, "u-1")
	require.NoError(t, err)
	assert.Len(t, loaded.FeedbackRatings, 20)
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), Config{Driver: "mongo"}, logger.Discard())
	assert.Error(t, err)
}

func TestPGStore(t *testing.T) {
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()

	s, err := NewPGStore(ctx, Config{DatabaseURL: url}, logger.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	user := "test-" + time.Now().Format("150405.000000")
	_, err = s.Update(ctx, user, func(p *Preferences) error {
		p.SetConsent(true, time.Now())
		return p.Rate("m1", 3)
	})
	require.NoError(t, err)

	loaded, err := s.Load(ctx, user)
	require.NoError(t, err)
	assert.True(t, loaded.GDPRConsent)
	assert.Equal(t, 3, loaded.FeedbackRatings["m1"])

	require.NoError(t, s.Delete(ctx, user))
	loaded, err = s.Load(ctx, user)
	require.NoError(t, err)
	assert.False(t, loaded.GDPRConsent)
}
