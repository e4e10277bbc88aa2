package node

import (
	"errors"
	"fmt"
	"strings"

	"github.com/John-Robertt/mergesub/internal/diag"
	"github.com/John-Robertt/mergesub/internal/model"
)

// Rewriter points one decoded link of a single scheme at a relay endpoint.
// It returns the line unchanged with a nil error when the link is not eligible.
type Rewriter interface {
	Rewrite(line string, relay model.RelayTarget) (string, error)
}

// rewriters holds the per-scheme strategies. Schemes without an entry are
// passed through.
var rewriters = map[Scheme]Rewriter{
	SchemeVmess:  vmessRewriter{},
	SchemeVless:  authorityRewriter{scheme: SchemeVless},
	SchemeTrojan: authorityRewriter{scheme: SchemeTrojan},
}

var (
	// ErrUnsafeAuthority: the authority cannot be substituted textually
	// (no userinfo, bracketed IPv6 host, missing or non-numeric port).
	ErrUnsafeAuthority = errors.New("authority is not a plain host:port after '@'")
	// ErrRelayPort: the relay port is not a base-10 integer.
	ErrRelayPort = errors.New("relay port is not a base-10 integer")
)

// DecodeError reports that a link's payload could not be parsed.
type DecodeError struct {
	Scheme Scheme
	Cause  error
}

func (e *DecodeError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("decode %s link: %v", e.Scheme, e.Cause)
}

func (e *DecodeError) Unwrap() error { return e.Cause }

// RewriteContent applies rewriteLine to every line of content. With a disabled
// relay the content is returned byte-for-byte. Otherwise lines are trimmed and
// blank lines stay in place as empty lines.
func RewriteContent(content string, relay model.RelayTarget, obs diag.Observer) string {
	if !relay.Enabled() {
		return content
	}
	obs = diag.OrNop(obs)

	lines := strings.Split(content, "\n")
	for i, line := range lines {
		lines[i] = dispatchLine(strings.TrimSpace(line), relay, obs)
	}
	return strings.Join(lines, "\n")
}

// rewriteLine rewrites a single trimmed line. Failures never propagate: the
// line is returned unchanged and an event is sent to obs.
func rewriteLine(line string, relay model.RelayTarget, obs diag.Observer) string {
	if !relay.Enabled() {
		return line
	}
	return dispatchLine(line, relay, diag.OrNop(obs))
}

func dispatchLine(line string, relay model.RelayTarget, obs diag.Observer) string {
	if line == "" {
		return line
	}
	rw, ok := rewriters[Classify(line)]
	if !ok {
		return line
	}
	out, err := rw.Rewrite(line, relay)
	if err != nil {
		kind := diag.KindRewriteSkipped
		var de *DecodeError
		if errors.As(err, &de) {
			kind = diag.KindDecodeFallback
		}
		obs.Observe(diag.Event{Kind: kind, Line: line, Err: err})
		return line
	}
	return out
}

// rewritableTransport reports whether traffic of this transport can be carried
// by a TLS-terminating relay.
func rewritableTransport(network string) bool {
	return network == "ws" || network == "xhttp"
}
