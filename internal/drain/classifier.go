// Package drain decides whether a remote lead has finished its run and
// what its terminal disposition is. The classifier is a pure function over
// a lead snapshot and the clock; it performs no I/O, so every branch is
// testable with plain table tests.
package drain

import (
	"strings"
	"time"

	"github.com/ignite/coldsync/internal/domain"
)

// Remote status codes as reported by the campaign service.
const (
	remoteActive   = 1
	remotePaused   = 2
	remoteFinished = 3
)

// Bounce code sets. Hard codes drain after the grace period; soft codes
// never drain, the mailbox may simply have been busy.
var (
	hardBounceCodes = map[int]bool{550: true, 551: true, 553: true}
	softBounceCodes = map[int]bool{421: true, 450: true, 451: true}
)

// Snapshot is the classifier's view of one remote lead. Fields left at
// their zero value mean "signal absent"; a snapshot missing its status or
// creation time is malformed and always classifies as keep.
type Snapshot struct {
	StatusCode   int
	StatusText   string
	ReplyCount   int
	BounceCode   int
	Unsubscribed bool
	PauseUntil   time.Time
	CreatedAt    time.Time
}

// Decision is the classifier's verdict for one lead.
type Decision struct {
	Drain       bool
	Disposition domain.MembershipStatus
	Detail      string
	AutoReply   bool
}

func keep() Decision { return Decision{} }

func drainAs(status domain.MembershipStatus, detail string) Decision {
	return Decision{Drain: true, Disposition: status, Detail: detail}
}

// Classifier holds the time windows the rules depend on.
type Classifier struct {
	BounceGrace time.Duration
	StaleActive time.Duration
}

// New creates a classifier with the given windows.
func New(bounceGrace, staleActive time.Duration) *Classifier {
	return &Classifier{BounceGrace: bounceGrace, StaleActive: staleActive}
}

// Classify runs the ordered rule table. First match wins; when no rule
// matches, or the snapshot is malformed, the lead is kept. Keeping a lead
// one cycle too long is recoverable; draining one wrongly is not.
func (c *Classifier) Classify(s Snapshot, now time.Time) Decision {
	if s.StatusCode <= 0 || s.CreatedAt.IsZero() {
		return keep()
	}

	// An auto-responder pause with replies present is vacation mail, not
	// engagement. Leave the lead in place until the pause lapses.
	if s.ReplyCount > 0 && !s.PauseUntil.IsZero() && s.PauseUntil.After(now) {
		d := keep()
		d.AutoReply = true
		return d
	}

	terminal := s.StatusCode == remoteFinished

	if terminal && s.ReplyCount > 0 {
		return drainAs(domain.StatusReplied, "sequence finished with replies")
	}
	if terminal {
		return drainAs(domain.StatusCompleted, "sequence finished")
	}
	if s.Unsubscribed || strings.Contains(strings.ToLower(s.StatusText), "unsubscrib") {
		return drainAs(domain.StatusUnsubscribed, "unsubscribe signal")
	}
	if hardBounceCodes[s.BounceCode] {
		if now.Sub(s.CreatedAt) >= c.BounceGrace {
			return drainAs(domain.StatusBouncedHard, "hard bounce after grace period")
		}
		return keep()
	}
	if softBounceCodes[s.BounceCode] {
		// Soft bounces are transient; the lead stays enrolled.
		return keep()
	}
	if s.StatusCode == remoteActive && now.Sub(s.CreatedAt) >= c.StaleActive {
		return drainAs(domain.StatusStaleActive, "active beyond the stale window")
	}

	return keep()
}
