package node

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/John-Robertt/mergesub/internal/model"
)

var plainHostPort = regexp.MustCompile(`^[\w.-]+:\d+$`)

// authorityRewriter handles URI-shaped links (vless, trojan). The substitution
// is textual so user-info, path, query and fragment survive byte-for-byte.
type authorityRewriter struct {
	scheme Scheme
}

func (r authorityRewriter) Rewrite(line string, relay model.RelayTarget) (string, error) {
	u, err := url.Parse(line)
	if err != nil {
		return line, &DecodeError{Scheme: r.scheme, Cause: err}
	}
	q := u.Query()
	if !rewritableTransport(q.Get("type")) || q.Get("security") != "tls" {
		return line, nil
	}
	if host := q.Get("host"); host != "" && host == u.Hostname() {
		return line, nil
	}
	if _, err := strconv.Atoi(relay.Port); err != nil {
		return line, fmt.Errorf("%w: %q", ErrRelayPort, relay.Port)
	}
	return replaceAuthority(line, relay)
}

// replaceAuthority swaps the host:port that follows the last '@' of the
// authority component.
func replaceAuthority(line string, relay model.RelayTarget) (string, error) {
	i := strings.Index(line, "://")
	if i < 0 {
		return line, ErrUnsafeAuthority
	}
	start := i + len("://")
	end := len(line)
	if j := strings.IndexAny(line[start:], "/?#"); j >= 0 {
		end = start + j
	}
	authority := line[start:end]

	at := strings.LastIndexByte(authority, '@')
	if at < 0 || !plainHostPort.MatchString(authority[at+1:]) {
		return line, ErrUnsafeAuthority
	}

	var b strings.Builder
	b.Grow(len(line) + len(relay.Address))
	b.WriteString(line[:start+at+1])
	b.WriteString(relay.Address)
	b.WriteByte(':')
	b.WriteString(relay.Port)
	b.WriteString(line[end:])
	return b.String(), nil
}
