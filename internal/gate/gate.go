// Package gate decides whether a user may retrieve files, based on their
// membership in a configured channel.
//
// The gate fails open: if membership cannot be verified (transport error,
// timeout, platform refusal, unexpected status) access is granted. Only an
// explicit left/kicked status denies.
package gate

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"codedrop/internal/telegram"
)

// Decision is the outcome of a single check.
type Decision string

const (
	Disabled Decision = "disabled"
	Allowed  Decision = "allowed"
	Cached   Decision = "cached"
	Denied   Decision = "denied"
	FailOpen Decision = "fail_open"
)

// DefaultTimeout bounds a membership query when none is configured.
const DefaultTimeout = 5 * time.Second

var gateDecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "codedrop_gate_decisions_total",
	Help: "Access gate decisions by outcome.",
}, []string{"decision"})

// MembershipChecker queries the platform for a user's channel status.
type MembershipChecker interface {
	GetChatMember(ctx context.Context, chatID string, userID int64) (*telegram.ChatMember, error)
}

// Cache remembers users recently confirmed as members.
type Cache interface {
	IsMember(ctx context.Context, key string) bool
	RememberMember(ctx context.Context, key string)
}

type Gate struct {
	channel string
	checker MembershipChecker
	cache   Cache
	timeout time.Duration
	joinURL string
}

// New builds a gate for channel. An empty channel or the literal "false"
// disables gating. cache may be nil.
func New(channel string, checker MembershipChecker, cache Cache, timeout time.Duration) *Gate {
	channel = strings.TrimSpace(channel)
	if strings.EqualFold(channel, "false") {
		channel = ""
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Gate{channel: channel, checker: checker, cache: cache, timeout: timeout}
}

// Enabled reports whether a channel is configured.
func (g *Gate) Enabled() bool {
	return g != nil && g.channel != "" && g.checker != nil
}

// WithJoinURL overrides the link offered to denied users. Private channels
// addressed by numeric id need one, since t.me cannot resolve the id.
func (g *Gate) WithJoinURL(url string) *Gate {
	g.joinURL = strings.TrimSpace(url)
	return g
}

// JoinURL is the public link users are sent to when denied, or "" when the
// channel has none.
func (g *Gate) JoinURL() string {
	if g == nil || g.channel == "" {
		return ""
	}
	if g.joinURL != "" {
		return g.joinURL
	}
	name := strings.TrimPrefix(g.channel, "@")
	if _, err := strconv.ParseInt(name, 10, 64); err == nil {
		return ""
	}
	return "https://t.me/" + name
}

// IsAuthorized reports whether userID may retrieve files.
func (g *Gate) IsAuthorized(ctx context.Context, userID int64) bool {
	return g.Check(ctx, userID) != Denied
}

// Check evaluates the policy and returns how the decision was reached.
func (g *Gate) Check(ctx context.Context, userID int64) Decision {
	d := g.check(ctx, userID)
	gateDecisionsTotal.WithLabelValues(string(d)).Inc()
	return d
}

func (g *Gate) check(ctx context.Context, userID int64) Decision {
	if !g.Enabled() {
		return Disabled
	}
	key := fmt.Sprintf("%s:%d", g.channel, userID)
	if g.cache != nil && g.cache.IsMember(ctx, key) {
		return Cached
	}

	qctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	member, err := g.checker.GetChatMember(qctx, g.channel, userID)
	if err != nil {
		log.Printf("gate check for user %d failed, allowing: %v", userID, err)
		return FailOpen
	}

	switch member.Status {
	case telegram.StatusCreator, telegram.StatusAdministrator, telegram.StatusMember, telegram.StatusRestricted:
		if g.cache != nil {
			g.cache.RememberMember(ctx, key)
		}
		return Allowed
	case telegram.StatusLeft, telegram.StatusKicked:
		return Denied
	default:
		log.Printf("gate check for user %d returned status %q, allowing", userID, member.Status)
		return FailOpen
	}
}
