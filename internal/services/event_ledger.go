package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/Wikid82/warden/internal/logger"
	"github.com/Wikid82/warden/internal/metrics"
	"github.com/Wikid82/warden/internal/models"
	"github.com/Wikid82/warden/internal/util"
)

var (
	ErrInvalidRiskLevel = errors.New("invalid risk level")
	ErrInvalidAction    = errors.New("invalid event action")
	ErrInvalidDetails   = errors.New("event details must be a JSON object")
	ErrLedgerWrite      = errors.New("security event could not be recorded")
)

const (
	DefaultPageLimit = 50
	MaxPageLimit     = 500
)

// EventInput is what callers hand the ledger. Details may be nil, a struct,
// a map, or raw JSON; whatever it is must encode to a JSON object.
type EventInput struct {
	ActorID   *string
	Action    models.EventAction
	Resource  string
	IPAddress string
	UserAgent string
	Success   bool
	RiskLevel models.RiskLevel
	Details   interface{}
}

// EventFilter narrows Query. Zero fields do not filter.
type EventFilter struct {
	RiskLevel models.RiskLevel
	Action    models.EventAction
	IPAddress string
	ActorID   string
	Since     time.Time
	Until     time.Time
}

// Page selects a window of results. Limit <= 0 means DefaultPageLimit and
// anything above MaxPageLimit is clamped.
type Page struct {
	Limit  int
	Offset int
}

// EventPage is one page of query results plus the unpaged total.
type EventPage struct {
	Events []models.SecurityEvent `json:"events"`
	Total  int64                  `json:"total"`
	Limit  int                    `json:"limit"`
	Offset int                    `json:"offset"`
}

// EventNotifier is told about every CRITICAL event after it is stored.
type EventNotifier interface {
	NotifyEvent(ev models.SecurityEvent)
}

// EventAppender is the write side of the ledger.
type EventAppender interface {
	Append(ctx context.Context, in EventInput) (string, error)
}

// EventLedger is the append-only audit trail of security events.
type EventLedger struct {
	db               *gorm.DB
	notifier         EventNotifier
	bestEffortMedium bool
	now              func() time.Time
}

// LedgerOption configures an EventLedger.
type LedgerOption func(*EventLedger)

// WithNotifier sends stored CRITICAL events to n.
func WithNotifier(n EventNotifier) LedgerOption {
	return func(l *EventLedger) { l.notifier = n }
}

// WithBestEffortMedium lets MEDIUM writes fail without failing the caller,
// the way LOW writes always do.
func WithBestEffortMedium(enabled bool) LedgerOption {
	return func(l *EventLedger) { l.bestEffortMedium = enabled }
}

// NewEventLedger returns an EventLedger using the provided DB
func NewEventLedger(db *gorm.DB, opts ...LedgerOption) *EventLedger {
	l := &EventLedger{db: db, now: func() time.Time { return time.Now().UTC() }}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *EventLedger) bestEffort(r models.RiskLevel) bool {
	return r == models.RiskLow || (r == models.RiskMedium && l.bestEffortMedium)
}

// Append stores one event and returns its id. A failed write of a
// best-effort event is logged and counted, and Append returns ("", nil);
// failures of anything more severe are returned wrapped in ErrLedgerWrite.
func (l *EventLedger) Append(ctx context.Context, in EventInput) (string, error) {
	if !in.RiskLevel.Valid() {
		return "", ErrInvalidRiskLevel
	}
	if !in.Action.Valid() {
		return "", ErrInvalidAction
	}
	details, err := encodeDetails(in.Details)
	if err != nil {
		return "", err
	}

	ev := models.SecurityEvent{
		UUID:      uuid.NewString(),
		ActorID:   in.ActorID,
		Action:    in.Action,
		Resource:  strings.ToValidUTF8(in.Resource, "\uFFFD"),
		IPAddress: util.IPKey(in.IPAddress),
		UserAgent: truncate(strings.ToValidUTF8(in.UserAgent, "\uFFFD"), maxUserAgentLen),
		Success:   in.Success,
		RiskLevel: in.RiskLevel,
		Details:   details,
		CreatedAt: l.now(),
	}

	if err := l.db.WithContext(ctx).Create(&ev).Error; err != nil {
		fields := logrus.Fields{
			"action":     string(ev.Action),
			"risk_level": string(ev.RiskLevel),
			"ip":         util.SanitizeForLog(ev.IPAddress),
		}
		if l.bestEffort(in.RiskLevel) {
			metrics.IncLedgerDropped(string(in.RiskLevel))
			logger.WithFields(fields).WithError(err).Warn("dropping security event")
			return "", nil
		}
		logger.WithFields(fields).WithError(err).Error("failed to record security event")
		return "", fmt.Errorf("%w: %w", ErrLedgerWrite, err)
	}

	metrics.IncLedgerAppended(string(ev.RiskLevel))
	if ev.RiskLevel == models.RiskCritical && l.notifier != nil {
		l.notifier.NotifyEvent(ev)
	}
	return ev.UUID, nil
}

func (l *EventLedger) filtered(ctx context.Context, f EventFilter) *gorm.DB {
	q := l.db.WithContext(ctx).Model(&models.SecurityEvent{})
	if f.RiskLevel != "" {
		q = q.Where("risk_level = ?", f.RiskLevel)
	}
	if f.Action != "" {
		q = q.Where("action = ?", f.Action)
	}
	if f.IPAddress != "" {
		q = q.Where("ip_address = ?", util.IPKey(f.IPAddress))
	}
	if f.ActorID != "" {
		q = q.Where("actor_id = ?", f.ActorID)
	}
	if !f.Since.IsZero() {
		q = q.Where("created_at >= ?", f.Since.UTC())
	}
	if !f.Until.IsZero() {
		q = q.Where("created_at < ?", f.Until.UTC())
	}
	return q
}

// Query returns events matching f, newest first.
func (l *EventLedger) Query(ctx context.Context, f EventFilter, p Page) (*EventPage, error) {
	if f.RiskLevel != "" && !f.RiskLevel.Valid() {
		return nil, ErrInvalidRiskLevel
	}
	if f.Action != "" && !f.Action.Valid() {
		return nil, ErrInvalidAction
	}
	limit := p.Limit
	if limit <= 0 {
		limit = DefaultPageLimit
	}
	if limit > MaxPageLimit {
		limit = MaxPageLimit
	}
	offset := p.Offset
	if offset < 0 {
		offset = 0
	}

	var total int64
	if err := l.filtered(ctx, f).Count(&total).Error; err != nil {
		return nil, err
	}

	events := make([]models.SecurityEvent, 0)
	if err := l.filtered(ctx, f).
		Order("created_at desc").
		Order("id desc").
		Limit(limit).
		Offset(offset).
		Find(&events).Error; err != nil {
		return nil, err
	}

	return &EventPage{Events: events, Total: total, Limit: limit, Offset: offset}, nil
}

// CountSince counts events for ip with the given action at or after since.
func (l *EventLedger) CountSince(ctx context.Context, ip string, action models.EventAction, since time.Time) (int64, error) {
	var n int64
	err := l.filtered(ctx, EventFilter{IPAddress: ip, Action: action, Since: since}).Count(&n).Error
	return n, err
}

// Get returns one event by id.
func (l *EventLedger) Get(ctx context.Context, id string) (*models.SecurityEvent, error) {
	var ev models.SecurityEvent
	if err := l.db.WithContext(ctx).Where("uuid = ?", id).First(&ev).Error; err != nil {
		return nil, err
	}
	return &ev, nil
}

func encodeDetails(v interface{}) (datatypes.JSON, error) {
	var raw []byte
	switch d := v.(type) {
	case nil:
		return datatypes.JSON("{}"), nil
	case datatypes.JSON:
		raw = d
	case json.RawMessage:
		raw = d
	case []byte:
		raw = d
	default:
		b, err := json.Marshal(d)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidDetails, err)
		}
		raw = b
	}

	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return datatypes.JSON("{}"), nil
	}
	var obj map[string]interface{}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, ErrInvalidDetails
	}
	return datatypes.JSON(raw), nil
}

const maxUserAgentLen = 512

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
