package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Wikid82/warden/internal/config"
	"github.com/Wikid82/warden/internal/detector"
	"github.com/Wikid82/warden/internal/logger"
	"github.com/Wikid82/warden/internal/metrics"
	"github.com/Wikid82/warden/internal/models"
	"github.com/Wikid82/warden/internal/util"
)

// ErrAttackDetected is deliberately vague; callers show it to the client
// as-is and keep the matched patterns for the audit trail.
var ErrAttackDetected = errors.New("validation failed")

// RequestMeta identifies the request whose fields are being checked.
type RequestMeta struct {
	ActorID   *string
	IPAddress string
	UserAgent string
	Resource  string
}

// InputGuard screens user-supplied fields before they reach business logic,
// records what it finds and blocks addresses that keep trying.
type InputGuard struct {
	ledger *EventLedger
	admin  *BlockAdmin
	cfg    config.AutoBlockConfig
	now    func() time.Time
}

// NewInputGuard returns a guard that escalates per cfg.
func NewInputGuard(ledger *EventLedger, admin *BlockAdmin, cfg config.AutoBlockConfig) *InputGuard {
	return &InputGuard{
		ledger: ledger,
		admin:  admin,
		cfg:    cfg,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// CheckFields runs the detector over fields in key order and stops at the
// first hit. A nil return means every field looked clean.
func (g *InputGuard) CheckFields(ctx context.Context, meta RequestMeta, fields map[string]string) error {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		res := detector.Detect(fields[k])
		if !res.Detected() {
			continue
		}
		for _, kind := range res.Kinds() {
			metrics.IncDetection(kind)
		}
		return g.reject(ctx, meta, k, res)
	}
	return nil
}

func (g *InputGuard) reject(ctx context.Context, meta RequestMeta, field string, res detector.Result) error {
	_, err := g.ledger.Append(ctx, EventInput{
		ActorID:   meta.ActorID,
		Action:    models.ActionAttackDetected,
		Resource:  meta.Resource,
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
		Success:   false,
		RiskLevel: RiskFor(OutcomeAttackDetected),
		Details: models.AttackDetails{
			Field:    field,
			Patterns: res.Patterns,
			Kinds:    res.Kinds(),
		},
	})

	logger.WithFields(logrus.Fields{
		"ip":       util.SanitizeForLog(meta.IPAddress),
		"field":    util.SanitizeForLog(field),
		"patterns": res.Patterns,
	}).Warn("attack signature in request input")

	if err != nil {
		// Without the event the attempt count is unreliable, so no escalation.
		return fmt.Errorf("%w: %w", ErrAttackDetected, err)
	}
	g.escalate(ctx, meta)
	return ErrAttackDetected
}

// escalate blocks meta.IPAddress once it has Threshold attack events inside
// Window. Failures are logged; the request is rejected either way.
func (g *InputGuard) escalate(ctx context.Context, meta RequestMeta) {
	if !g.cfg.Enabled {
		return
	}
	ip, ok := util.NormalizeIP(meta.IPAddress)
	if !ok || g.admin.IsBlocked(ip) {
		return
	}

	attempts, err := g.ledger.CountSince(ctx, ip, models.ActionAttackDetected, g.now().Add(-g.cfg.Window))
	if err != nil {
		logger.Log().WithError(err).Warn("could not count attack attempts")
		return
	}
	if attempts < int64(g.cfg.Threshold) {
		return
	}

	secs := int64(g.cfg.Duration / time.Second)
	reason := fmt.Sprintf("auto: %d attack attempts within %s", attempts, g.cfg.Window)
	system := SystemActor
	if _, err := g.ledger.Append(ctx, EventInput{
		ActorID:   &system,
		Action:    models.ActionAutoBlock,
		Resource:  meta.Resource,
		IPAddress: ip,
		UserAgent: meta.UserAgent,
		Success:   true,
		RiskLevel: RiskFor(OutcomeRepeatedAttack),
		Details: models.BlockDetails{
			Target:          ip,
			Reason:          reason,
			DurationSeconds: &secs,
			BlockedBy:       SystemActor,
			Attempts:        attempts,
		},
	}); err != nil {
		logger.Log().WithError(err).Error("could not record auto block")
	}

	if _, err := g.admin.Block(ctx, BlockRequest{
		IPAddress:       ip,
		Reason:          reason,
		DurationSeconds: &secs,
		Actor:           SystemActor,
		Source:          meta.Resource,
		UserAgent:       meta.UserAgent,
	}); err != nil && !errors.Is(err, ErrAuditIncomplete) {
		logger.Log().WithError(err).WithField("ip", ip).Error("auto block failed")
		return
	}
	metrics.IncAutoBlock()
}
