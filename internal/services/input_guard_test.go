package services

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Wikid82/warden/internal/config"
	"github.com/Wikid82/warden/internal/models"
)

func newGuard(f *fixture, cfg config.AutoBlockConfig) *InputGuard {
	g := NewInputGuard(f.ledger, f.admin, cfg)
	g.now = f.clock.Now
	return g
}

var defaultAutoBlock = config.AutoBlockConfig{
	Enabled:   true,
	Threshold: 3,
	Window:    10 * time.Minute,
	Duration:  time.Hour,
}

func TestInputGuard_CleanFields(t *testing.T) {
	f := newFixture(t)
	g := newGuard(f, defaultAutoBlock)
	ctx := context.Background()

	err := g.CheckFields(ctx, RequestMeta{IPAddress: "203.0.113.5"}, map[string]string{
		"name":    "O'Brien",
		"comment": "Looking forward to the meetup; see you at 6.",
	})
	require.NoError(t, err)

	page, err := f.ledger.Query(ctx, EventFilter{}, Page{})
	require.NoError(t, err)
	assert.Empty(t, page.Events)
}

func TestInputGuard_RecordsAttack(t *testing.T) {
	f := newFixture(t)
	g := newGuard(f, defaultAutoBlock)
	ctx := context.Background()

	err := g.CheckFields(ctx, RequestMeta{IPAddress: "203.0.113.5", Resource: "/comments"}, map[string]string{
		"title": "hello",
		"body":  "<script>alert(1)</script>",
	})
	require.ErrorIs(t, err, ErrAttackDetected)
	assert.Equal(t, "validation failed", err.Error(), "nothing about the match leaks to the caller")

	page, err := f.ledger.Query(ctx, EventFilter{Action: models.ActionAttackDetected}, Page{})
	require.NoError(t, err)
	require.Len(t, page.Events, 1)
	ev := page.Events[0]
	assert.Equal(t, models.RiskHigh, ev.RiskLevel)
	assert.Equal(t, "/comments", ev.Resource)
	assert.False(t, ev.Success)

	var details models.AttackDetails
	require.NoError(t, json.Unmarshal(ev.Details, &details))
	assert.Equal(t, "body", details.Field)
	assert.Contains(t, details.Kinds, "xss")
	assert.NotEmpty(t, details.Patterns)

	assert.False(t, f.cache.IsBlocked("203.0.113.5"), "one attempt is below the threshold")
}

func TestInputGuard_EscalatesRepeatedAttacks(t *testing.T) {
	f := newFixture(t)
	g := newGuard(f, defaultAutoBlock)
	ctx := context.Background()
	meta := RequestMeta{IPAddress: "198.51.100.23", Resource: "/search"}
	payload := map[string]string{"q": "' OR '1'='1"}

	for i := 0; i < 2; i++ {
		require.ErrorIs(t, g.CheckFields(ctx, meta, payload), ErrAttackDetected)
		f.clock.Advance(time.Minute)
	}
	assert.False(t, f.cache.IsBlocked("198.51.100.23"))

	require.ErrorIs(t, g.CheckFields(ctx, meta, payload), ErrAttackDetected)
	assert.True(t, f.cache.IsBlocked("198.51.100.23"))

	rec, err := f.store.Find(ctx, "198.51.100.23")
	require.NoError(t, err)
	assert.Equal(t, SystemActor, rec.BlockedBy)
	require.NotNil(t, rec.ExpiresAt)
	assert.WithinDuration(t, f.clock.Now().Add(time.Hour), *rec.ExpiresAt, time.Second)

	crit, err := f.ledger.Query(ctx, EventFilter{RiskLevel: models.RiskCritical}, Page{})
	require.NoError(t, err)
	require.Len(t, crit.Events, 1)
	assert.Equal(t, models.ActionAutoBlock, crit.Events[0].Action)

	// The block expires with the configured duration.
	f.clock.Advance(time.Hour + time.Second)
	assert.False(t, f.cache.IsBlocked("198.51.100.23"))
}

func TestInputGuard_WindowLimitsEscalation(t *testing.T) {
	f := newFixture(t)
	g := newGuard(f, defaultAutoBlock)
	ctx := context.Background()
	meta := RequestMeta{IPAddress: "198.51.100.24"}

	for i := 0; i < 3; i++ {
		require.ErrorIs(t, g.CheckFields(ctx, meta, map[string]string{"q": "1 UNION SELECT password FROM users"}), ErrAttackDetected)
		f.clock.Advance(6 * time.Minute)
	}
	assert.False(t, f.cache.IsBlocked("198.51.100.24"), "attempts spread past the window do not accumulate")
}

func TestInputGuard_EscalationDisabled(t *testing.T) {
	f := newFixture(t)
	cfg := defaultAutoBlock
	cfg.Enabled = false
	g := newGuard(f, cfg)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.ErrorIs(t, g.CheckFields(ctx, RequestMeta{IPAddress: "192.0.2.5"}, map[string]string{"x": "<iframe src=x>"}), ErrAttackDetected)
	}
	assert.False(t, f.cache.IsBlocked("192.0.2.5"))
}

func TestInputGuard_LedgerDownStillRejects(t *testing.T) {
	f := newFixture(t)
	g := newGuard(f, defaultAutoBlock)
	closeDB(t, f.db)

	err := g.CheckFields(context.Background(), RequestMeta{IPAddress: "192.0.2.6"}, map[string]string{"x": "'; DROP TABLE users; --"})
	assert.ErrorIs(t, err, ErrAttackDetected)
	assert.ErrorIs(t, err, ErrLedgerWrite)
}
