// Package security counts failed credential operations per client IP and
// reports when a burst crosses its alert threshold.
package security

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Events observed by the API.
const (
	EventTokenAuth    = "token.auth"
	EventRefreshToken = "token.refresh"
	EventCreateUser   = "user.create"
)

// Outcomes observed by the API.
const (
	OutcomeFail        = "fail"
	OutcomeRateLimited = "rate_limited"
)

type rule struct {
	threshold int64
	window    time.Duration
}

// Rate-limit denials share one rule whatever the event.
var (
	rateLimitedRule = rule{threshold: 20, window: time.Minute}
	failRules       = map[string]rule{
		EventTokenAuth:    {threshold: 10, window: 5 * time.Minute},
		EventCreateUser:   {threshold: 10, window: 5 * time.Minute},
		EventRefreshToken: {threshold: 15, window: 5 * time.Minute},
	}
)

// incrWindow bumps a window counter and sets its expiry on first use.
var incrWindow = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if n == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return n
`)

// AlertResult is the counter state after one observation.
type AlertResult struct {
	Triggered bool
	Count     int64
	Threshold int64
	Window    time.Duration
}

type AuditAlerter struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

// NewAuditAlerter returns nil without a client. A nil alerter observes
// nothing.
func NewAuditAlerter(client *redis.Client, prefix string) *AuditAlerter {
	if client == nil {
		return nil
	}
	if prefix = strings.TrimSpace(prefix); prefix == "" {
		prefix = "graphdj:alerts"
	}
	return &AuditAlerter{client: client, prefix: prefix, now: time.Now}
}

// Observe counts one event for ip. Events without a rule are ignored.
func (a *AuditAlerter) Observe(ctx context.Context, event, outcome, ip string) (AlertResult, error) {
	if a == nil {
		return AlertResult{}, nil
	}
	r, ok := ruleFor(event, outcome)
	if !ok {
		return AlertResult{}, nil
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	ms := r.window.Milliseconds()
	n, err := incrWindow.Run(ctx, a.client, []string{a.key(event, outcome, ip, r.window)}, ms).Int64()
	if err != nil {
		return AlertResult{}, err
	}
	return AlertResult{
		Triggered: n >= r.threshold,
		Count:     n,
		Threshold: r.threshold,
		Window:    r.window,
	}, nil
}

// key names the counter for the window containing now.
func (a *AuditAlerter) key(event, outcome, ip string, window time.Duration) string {
	slot := a.now().UnixMilli() / window.Milliseconds()
	return strings.Join([]string{a.prefix, segment(event), segment(outcome), segment(ip), strconv.FormatInt(slot, 10)}, ":")
}

func ruleFor(event, outcome string) (rule, bool) {
	switch outcome {
	case OutcomeRateLimited:
		return rateLimitedRule, true
	case OutcomeFail:
		r, ok := failRules[event]
		return r, ok
	}
	return rule{}, false
}

var segmentReplacer = strings.NewReplacer(":", "_", "|", "_", " ", "_")

func segment(in string) string {
	if in = strings.TrimSpace(in); in == "" {
		return "unknown"
	}
	return segmentReplacer.Replace(in)
}
