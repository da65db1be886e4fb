package services

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/containrrr/shoutrrr"

	"github.com/Wikid82/warden/internal/logger"
	"github.com/Wikid82/warden/internal/models"
	"github.com/Wikid82/warden/internal/util"
)

// AlertNotifier pushes CRITICAL security events to operator chat or mail
// through shoutrrr service URLs. Sends run in the background and failures
// are only logged; alerting never holds up the request that caused it.
type AlertNotifier struct {
	urls []string
	send func(url, message string) error
	wg   sync.WaitGroup
}

// NewAlertNotifier returns a notifier for the given shoutrrr URLs. With no
// URLs it accepts events and does nothing.
func NewAlertNotifier(urls []string) *AlertNotifier {
	n := &AlertNotifier{send: shoutrrr.Send}
	for _, u := range urls {
		if u = strings.TrimSpace(u); u != "" {
			n.urls = append(n.urls, normalizeURL(u))
		}
	}
	return n
}

var discordWebhookRegex = regexp.MustCompile(`^https://discord(?:app)?\.com/api/webhooks/(\d+)/([a-zA-Z0-9_-]+)`)

// normalizeURL turns a pasted Discord webhook URL into shoutrrr's form.
func normalizeURL(rawURL string) string {
	matches := discordWebhookRegex.FindStringSubmatch(rawURL)
	if len(matches) == 3 {
		return fmt.Sprintf("discord://%s@%s", matches[2], matches[1])
	}
	return rawURL
}

// Enabled reports whether any destination is configured.
func (n *AlertNotifier) Enabled() bool {
	return len(n.urls) > 0
}

// NotifyEvent formats ev and sends it to every destination.
func (n *AlertNotifier) NotifyEvent(ev models.SecurityEvent) {
	if !n.Enabled() {
		return
	}
	msg := formatAlert(ev)
	for _, url := range n.urls {
		n.wg.Add(1)
		go func(url string) {
			defer n.wg.Done()
			if err := n.send(url, msg); err != nil {
				logger.Log().WithError(err).WithField("event_id", ev.UUID).Warn("failed to send security alert")
			}
		}(url)
	}
}

// Wait blocks until in-flight sends finish. Used at shutdown.
func (n *AlertNotifier) Wait() {
	n.wg.Wait()
}

// Test sends a fixed message to every destination and returns the first error.
func (n *AlertNotifier) Test() error {
	for _, url := range n.urls {
		if err := n.send(url, "Test notification from Warden"); err != nil {
			return err
		}
	}
	return nil
}

func formatAlert(ev models.SecurityEvent) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s\n\n", ev.RiskLevel, ev.Action)
	fmt.Fprintf(&b, "ip: %s\n", util.SanitizeForLog(ev.IPAddress))
	if ev.Resource != "" {
		fmt.Fprintf(&b, "resource: %s\n", util.SanitizeForLog(ev.Resource))
	}
	if ev.ActorID != nil {
		fmt.Fprintf(&b, "actor: %s\n", util.SanitizeForLog(*ev.ActorID))
	}
	fmt.Fprintf(&b, "time: %s\n", ev.CreatedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "event: %s", ev.UUID)
	return b.String()
}
