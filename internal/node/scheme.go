// Package node understands single proxy-link lines: which scheme they use,
// how to unwrap a base64-wrapped link, and how to point an eligible link at a
// relay endpoint.
package node

import "strings"

type Scheme int

const (
	SchemeUnknown Scheme = iota
	SchemeVmess
	SchemeVless
	SchemeTrojan
	SchemeSS
	SchemeSSR
	SchemeSnell
	SchemeJuicity
	SchemeHysteria
	SchemeHysteria2
	SchemeTUIC
	SchemeAnyTLS
	SchemeWireGuard
	SchemeSOCKS5
	SchemeHTTP
	SchemeHTTPS
)

// schemePrefixes is the allow-list of recognized link prefixes. Every prefix
// ends in "://", so no entry is a prefix of another.
var schemePrefixes = []struct {
	scheme Scheme
	prefix string
}{
	{SchemeVmess, "vmess://"},
	{SchemeVless, "vless://"},
	{SchemeTrojan, "trojan://"},
	{SchemeSS, "ss://"},
	{SchemeSSR, "ssr://"},
	{SchemeSnell, "snell://"},
	{SchemeJuicity, "juicity://"},
	{SchemeHysteria, "hysteria://"},
	{SchemeHysteria2, "hysteria2://"},
	{SchemeTUIC, "tuic://"},
	{SchemeAnyTLS, "anytls://"},
	{SchemeWireGuard, "wireguard://"},
	{SchemeSOCKS5, "socks5://"},
	{SchemeHTTP, "http://"},
	{SchemeHTTPS, "https://"},
}

// Classify returns the scheme tag of line, or SchemeUnknown. Matching is
// case-sensitive.
func Classify(line string) Scheme {
	for _, sp := range schemePrefixes {
		if strings.HasPrefix(line, sp.prefix) {
			return sp.scheme
		}
	}
	return SchemeUnknown
}

// Prefix returns the "<scheme>://" prefix, or "" for SchemeUnknown.
func (s Scheme) Prefix() string {
	for _, sp := range schemePrefixes {
		if sp.scheme == s {
			return sp.prefix
		}
	}
	return ""
}

func (s Scheme) String() string {
	if p := s.Prefix(); p != "" {
		return strings.TrimSuffix(p, "://")
	}
	return "unknown"
}
