package guard

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/crawl-frontier/pkg/models"
	"github.com/Sriram-PR/crawl-frontier/pkg/parse"
	"github.com/Sriram-PR/crawl-frontier/pkg/similarity"
	"github.com/Sriram-PR/crawl-frontier/pkg/utils"
)

// Config holds the thresholds of the trap checks
type Config struct {
	RedirectThreshold int // Reject once a URL has redirected more than this many times
	RedirectChainCap  int // Redirect targets kept per URL
	RevisitLimit      int // Reject once a URL has been inspected more than this many times
	NullByteLimit     int // Reject bodies with more NUL bytes than this
	PathDepthLimit    int // Reject URLs with more '/' than this
}

// DefaultConfig returns the stock thresholds
func DefaultConfig() Config {
	return Config{
		RedirectThreshold: 5,
		RedirectChainCap:  5,
		RevisitLimit:      10,
		NullByteLimit:     100,
		PathDepthLimit:    20,
	}
}

// Rejection is returned by Inspect when a check fails
type Rejection struct {
	Reason models.RejectReason
	URL    string
	Detail string
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("guard rejected %s: %s (%s)", r.URL, r.Reason, r.Detail)
}

// AsRejection unwraps a *Rejection from err
func AsRejection(err error) (*Rejection, bool) {
	var rej *Rejection
	if errors.As(err, &rej) {
		return rej, true
	}
	return nil, false
}

// Guard runs the trap checks over fetched responses before anything is extracted or stored
type Guard struct {
	cfg   Config
	state State
	log   *logrus.Entry
}

// New returns a guard over state. Zero thresholds in cfg take the defaults.
func New(cfg Config, state State, logger *logrus.Entry) *Guard {
	def := DefaultConfig()
	if cfg.RedirectThreshold <= 0 {
		cfg.RedirectThreshold = def.RedirectThreshold
	}
	if cfg.RedirectChainCap <= 0 {
		cfg.RedirectChainCap = def.RedirectChainCap
	}
	if cfg.RevisitLimit <= 0 {
		cfg.RevisitLimit = def.RevisitLimit
	}
	if cfg.NullByteLimit <= 0 {
		cfg.NullByteLimit = def.NullByteLimit
	}
	if cfg.PathDepthLimit <= 0 {
		cfg.PathDepthLimit = def.PathDepthLimit
	}
	return &Guard{cfg: cfg, state: state, log: logger}
}

// stateKey keys per-URL counters by the frontier's URL hash, so equivalent spellings share them
func stateKey(rawURL string) string {
	if hash, _, err := parse.URLHash(rawURL); err == nil {
		return hash
	}
	return utils.CalculateStringSHA256(rawURL)
}

type check func(ctx context.Context, key string, resp *models.Response) (*Rejection, error)

// Inspect runs every check in order and stops at the first failure.
// It returns nil on pass, a *Rejection on rejection, or a state backend error.
func (g *Guard) Inspect(ctx context.Context, resp *models.Response) error {
	key := stateKey(resp.URL)
	checks := []check{
		g.checkRedirects,
		g.checkDuplicate,
		g.checkVisits,
		g.checkNullBytes,
		g.checkPathDepth,
	}
	for _, c := range checks {
		rej, err := c(ctx, key, resp)
		if err != nil {
			return err
		}
		if rej != nil {
			g.log.WithFields(logrus.Fields{
				"url":    rej.URL,
				"reason": rej.Reason,
				"detail": rej.Detail,
			}).Warn("Guard rejected response")
			return rej
		}
	}
	return nil
}

func (g *Guard) reject(resp *models.Response, reason models.RejectReason, format string, args ...any) *Rejection {
	return &Rejection{Reason: reason, URL: resp.URL, Detail: fmt.Sprintf(format, args...)}
}

func (g *Guard) checkRedirects(ctx context.Context, key string, resp *models.Response) (*Rejection, error) {
	if !resp.IsRedirect() {
		return nil, nil
	}
	count, err := g.state.IncrRedirects(ctx, key)
	if err != nil {
		return nil, err
	}
	if count > int64(g.cfg.RedirectThreshold) {
		return g.reject(resp, models.RejectTooManyRedirects, "%d redirects, threshold %d", count, g.cfg.RedirectThreshold), nil
	}
	chainLen, err := g.state.PushRedirectTarget(ctx, key, resp.Location(), g.cfg.RedirectChainCap)
	if err != nil {
		return nil, err
	}
	if chainLen > int64(g.cfg.RedirectChainCap) {
		return g.reject(resp, models.RejectRedirectLoop, "redirect chain of %d exceeds cap %d", chainLen, g.cfg.RedirectChainCap), nil
	}
	return nil, nil
}

func (g *Guard) checkDuplicate(ctx context.Context, _ string, resp *models.Response) (*Rejection, error) {
	if !resp.IsHTML() {
		return nil, nil
	}
	fp := similarity.Fingerprint(resp.Body)
	seen, err := g.state.MarkFingerprint(ctx, fp)
	if err != nil {
		return nil, err
	}
	if seen {
		return g.reject(resp, models.RejectDuplicateContent, "fingerprint %s already seen", fp[:12]), nil
	}
	return nil, nil
}

func (g *Guard) checkVisits(ctx context.Context, key string, resp *models.Response) (*Rejection, error) {
	visits, err := g.state.IncrVisits(ctx, key)
	if err != nil {
		return nil, err
	}
	if visits > int64(g.cfg.RevisitLimit) {
		return g.reject(resp, models.RejectTooManyVisits, "%d visits, limit %d", visits, g.cfg.RevisitLimit), nil
	}
	return nil, nil
}

func (g *Guard) checkNullBytes(_ context.Context, _ string, resp *models.Response) (*Rejection, error) {
	if n := bytes.Count(resp.Body, []byte{0}); n > g.cfg.NullByteLimit {
		return g.reject(resp, models.RejectMalformedContent, "%d null bytes, limit %d", n, g.cfg.NullByteLimit), nil
	}
	return nil, nil
}

func (g *Guard) checkPathDepth(_ context.Context, _ string, resp *models.Response) (*Rejection, error) {
	if n := strings.Count(resp.URL, "/"); n > g.cfg.PathDepthLimit {
		return g.reject(resp, models.RejectPathTooDeep, "%d path separators, limit %d", n, g.cfg.PathDepthLimit), nil
	}
	return nil, nil
}
