// Package diag carries the structured diagnostic events emitted when the merge
// pipeline absorbs a failure instead of returning it.
package diag

import (
	"errors"
	"sync"
	"unicode/utf8"

	"go.uber.org/zap"
)

type Kind string

const (
	// KindSourceUnavailable: a subscription fetch failed, timed out or returned non-2xx.
	KindSourceUnavailable Kind = "source_unavailable"
	// KindDecodeFallback: base64 or JSON decoding failed and the original text was kept.
	KindDecodeFallback Kind = "decode_fallback"
	// KindRewriteSkipped: a line qualified for rewriting but its authority could not be
	// substituted safely (IPv6, missing userinfo, bad relay port).
	KindRewriteSkipped Kind = "rewrite_skipped"
)

type Event struct {
	Kind   Kind
	Source string // subscription URL, empty for manual nodes
	Line   string
	Err    error
}

type Observer interface {
	Observe(Event)
}

type ObserverFunc func(Event)

func (f ObserverFunc) Observe(e Event) { f(e) }

// Nop discards every event.
var Nop Observer = ObserverFunc(func(Event) {})

// Multi fans an event out to every non-nil observer in order.
func Multi(obs ...Observer) Observer {
	return ObserverFunc(func(e Event) {
		for _, o := range obs {
			if o != nil {
				o.Observe(e)
			}
		}
	})
}

// OrNop returns o, or Nop when o is nil.
func OrNop(o Observer) Observer {
	if o == nil {
		return Nop
	}
	return o
}

// NewZap logs source failures at Warn and line-level fallbacks at Debug.
func NewZap(logger *zap.Logger) Observer {
	if logger == nil {
		return Nop
	}
	return ObserverFunc(func(e Event) {
		fields := []zap.Field{zap.String("kind", string(e.Kind))}
		if e.Source != "" {
			fields = append(fields, zap.String("source", e.Source))
		}
		if e.Line != "" {
			fields = append(fields, zap.String("line", truncate(e.Line, 120)))
		}
		if e.Err != nil {
			fields = append(fields, zap.Error(e.Err))
			if isTimeout(e.Err) {
				fields = append(fields, zap.Bool("timeout", true))
			}
		}
		if e.Kind == KindSourceUnavailable {
			logger.Warn("subscription skipped", fields...)
			return
		}
		logger.Debug("line left unchanged", fields...)
	})
}

// Recorder keeps every observed event. Safe for concurrent use.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Observe(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Kinds returns the kinds of the recorded events in arrival order.
func (r *Recorder) Kinds() []Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Kind, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Kind)
	}
	return out
}

// isTimeout matches errors such as *fetch.FetchError that report timeouts.
func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}

// truncate cuts s to at most max bytes without splitting a rune.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max] + "..."
}
