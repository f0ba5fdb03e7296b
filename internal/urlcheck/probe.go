package urlcheck

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Prober is an optional path-enumeration capability consulted after the
// static checks pass. A true return means the target exposed restricted
// paths (401/403 discoveries) and should be rejected. Implementations must
// fail open: unavailable tooling or timeouts report false.
type Prober interface {
	Probe(ctx context.Context, rawURL string) bool
}

// NopProber is the default: no external tooling, nothing flagged.
type NopProber struct{}

func (NopProber) Probe(context.Context, string) bool { return false }

// CommandProber shells out to a directory-brute-force tool (gobuster-style
// CLI) with a short timeout. Best effort only; any failure to run the tool
// is treated as "nothing found".
type CommandProber struct {
	Name     string
	Wordlist string
	Timeout  time.Duration

	// run is swappable for tests; defaults to executing the command.
	run func(ctx context.Context, name string, args ...string) ([]byte, error)
}

func (p *CommandProber) Probe(ctx context.Context, rawURL string) bool {
	if p == nil || p.Name == "" {
		return false
	}
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	runner := p.run
	if runner == nil {
		runner = runCommand
	}
	out, err := runner(ctx, p.Name, "dir", "-u", rawURL, "-w", p.Wordlist, "-t", "5", "-r")
	if err != nil {
		log.Debug().Str("tool", p.Name).Err(err).Msg("urlcheck: probe unavailable, skipping")
		return false
	}
	s := string(out)
	return strings.Contains(s, "401") || strings.Contains(s, "403")
}
