// Package urlcheck validates candidate URLs before any network access.
// The checks are literal string checks; no DNS resolution happens here, so
// validation stays side-effect-free apart from the optional probe.
package urlcheck

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

var (
	// ErrScheme is returned for non-http(s) URLs.
	ErrScheme = errors.New("urlcheck: only http and https URLs are allowed")
	// ErrPrivateHost is returned when the hostname names a loopback or
	// private-range target.
	ErrPrivateHost = errors.New("urlcheck: URL targets a private or loopback address")
	// ErrUnsafeChars is returned when the raw URL contains characters or
	// sequences commonly used in injection and traversal attacks.
	ErrUnsafeChars = errors.New("urlcheck: URL contains unsafe characters")
)

const unsafeChars = `'"<>\`

// Validate rejects malformed, non-HTTP, private-target, and suspicious
// URLs. A nil return means the URL is acceptable for fetching.
func Validate(raw string) error {
	raw = strings.TrimSpace(raw)
	if strings.ContainsAny(raw, unsafeChars) || strings.Contains(raw, "..") {
		return ErrUnsafeChars
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("urlcheck: parse: %w", err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return ErrScheme
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return fmt.Errorf("urlcheck: missing hostname")
	}
	if isPrivateHost(host) {
		return ErrPrivateHost
	}
	return nil
}

// isPrivateHost matches the hostname literally against loopback names and
// the RFC 1918 ranges. The 172.16.0.0/12 range is detected by checking the
// second octet falls in [16,31].
func isPrivateHost(host string) bool {
	if host == "localhost" || host == "127.0.0.1" {
		return true
	}
	if strings.HasPrefix(host, "10.") || strings.HasPrefix(host, "192.168.") {
		return true
	}
	if strings.HasPrefix(host, "172.") {
		parts := strings.SplitN(host, ".", 3)
		if len(parts) >= 2 {
			if octet, err := strconv.Atoi(parts[1]); err == nil && octet >= 16 && octet <= 31 {
				return true
			}
		}
	}
	return false
}

// Guard combines the static checks with an optional external probe. The
// probe is best effort: when the tool is missing or slow the guard fails
// open.
type Guard struct {
	Prober Prober

	// AllowPrivate permits loopback and RFC 1918 targets. Meant for local
	// development and tests against servers on 127.0.0.1.
	AllowPrivate bool
}

// Check runs Validate and then the probe, if any.
func (g *Guard) Check(ctx context.Context, raw string) error {
	if err := Validate(raw); err != nil {
		if !(g != nil && g.AllowPrivate && errors.Is(err, ErrPrivateHost)) {
			return err
		}
	}
	if g != nil && g.Prober != nil && g.Prober.Probe(ctx, raw) {
		return fmt.Errorf("urlcheck: probe flagged restricted paths on target")
	}
	return nil
}
