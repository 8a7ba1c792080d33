package models

import (
	"net/http"
	"strings"
	"time"
)

// LinkRecord is one frontier entry per distinct normalized URL
type LinkRecord struct {
	URLHash       string    `json:"url_hash" db:"url_hash"`                        // SHA-256 of the normalized URL, primary identity
	URL           string    `json:"url" db:"url"`                                  // Original string form
	LeaseOwner    string    `json:"lease_owner,omitempty" db:"lease_owner"`        // Worker holding the lease, empty if none
	State         LinkState `json:"state" db:"state"`                              // See LinkState
	AddedAt       time.Time `json:"added_at" db:"added_at"`                        // First discovery
	Attempts      int       `json:"attempts" db:"attempts"`                        // Lease acquisitions so far
	LastAttemptAt time.Time `json:"last_attempt_at,omitempty" db:"last_attempt_at"` // Most recent lease
	Priority      int       `json:"priority" db:"priority"`                        // Higher is fetched sooner
	Depth         int       `json:"depth" db:"depth"`                              // Crawl depth at discovery
	Seq           uint64    `json:"seq" db:"seq"`                                  // Insertion order, breaks priority ties
}

// LeaseExpired reports whether a leased record's lease is older than timeout at now
func (r *LinkRecord) LeaseExpired(now time.Time, timeout time.Duration) bool {
	if r.State != LinkStateLeased || timeout <= 0 {
		return false
	}
	return !r.LastAttemptAt.Add(timeout).After(now)
}

// Claimable reports whether ClaimNext may hand this record out at now
func (r *LinkRecord) Claimable(now time.Time, leaseTimeout time.Duration) bool {
	return r.State == LinkStatePending || r.LeaseExpired(now, leaseTimeout)
}

// FrontierStats counts frontier records per state
type FrontierStats struct {
	Pending  int `json:"pending"`
	Leased   int `json:"leased"`
	Done     int `json:"done"`
	Failed   int `json:"failed"`
	Finished int `json:"finished"` // Removed into the finished log
}

// Add counts one live record in state
func (s *FrontierStats) Add(state LinkState, n int) {
	switch state {
	case LinkStatePending:
		s.Pending += n
	case LinkStateLeased:
		s.Leased += n
	case LinkStateDone:
		s.Done += n
	case LinkStateFailed:
		s.Failed += n
	}
}

// Live returns the number of records still in the frontier
func (s FrontierStats) Live() int {
	return s.Pending + s.Leased + s.Done + s.Failed
}

// FinishedRecord is the tombstone left behind when a link is removed from the live frontier
type FinishedRecord struct {
	URLHash    string    `json:"url_hash" db:"url_hash"`
	URL        string    `json:"url" db:"url"`
	FinishedAt time.Time `json:"finished_at" db:"finished_at"`
	CrawlerID  string    `json:"crawler_id" db:"crawler_id"` // Worker that finished it
	State      LinkState `json:"state" db:"state"`           // State at removal time
}

// CrawlerRecord is one row per registered worker
type CrawlerRecord struct {
	CrawlerID string        `json:"crawler_id" db:"crawler_id"`
	Status    CrawlerStatus `json:"status" db:"status"`
	UpdatedAt time.Time     `json:"updated_at" db:"updated_at"` // Last status change
}

// PageRecord is a fetched page as persisted by the page store
type PageRecord struct {
	URLHash       string    `json:"url_hash"`
	URL           string    `json:"url"`
	FetchedAt     time.Time `json:"fetched_at"`
	ContentType   string    `json:"content_type"`
	ContentLength int64     `json:"content_length"` // Header value, or body length when absent
	Title         string    `json:"title"`
	Content       string    `json:"content"`      // Extracted text
	ContentHash   string    `json:"content_hash"` // Fingerprint of Content
	Metadata      string    `json:"metadata"`     // Serialized response headers
	StatusCode    int       `json:"status_code"`
}

// PageText is the slice of a stored page the similarity model is built from
type PageText struct {
	URLHash string
	Content string
}

// Response is what the fetcher hands back for one URL
type Response struct {
	URL        string      // Requested URL
	StatusCode int         // Final status, redirects are not followed
	Header     http.Header // Response headers
	Body       []byte      // Full body
}

// IsRedirect reports a 301/302 response
func (r *Response) IsRedirect() bool {
	return r.StatusCode == http.StatusMovedPermanently || r.StatusCode == http.StatusFound
}

// IsHTML reports whether the response declares an HTML body
func (r *Response) IsHTML() bool {
	if r.Header == nil {
		return false
	}
	return strings.Contains(strings.ToLower(r.Header.Get("Content-Type")), "text/html")
}

// Location returns the redirect target header, if any
func (r *Response) Location() string {
	if r.Header == nil {
		return ""
	}
	return r.Header.Get("Location")
}
