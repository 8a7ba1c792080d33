package models

// LinkState is the frontier state of a LinkRecord
type LinkState string

const (
	LinkStateUnset   LinkState = ""        // Zero value = unset/unknown
	LinkStatePending LinkState = "pending" // Waiting to be claimed
	LinkStateLeased  LinkState = "leased"  // Claimed by a worker
	LinkStateDone    LinkState = "done"    // Fetched and stored (terminal)
	LinkStateFailed  LinkState = "failed"  // Attempts exhausted or rejected (terminal)
)

// String implements fmt.Stringer for logging
func (s LinkState) String() string {
	if s == "" {
		return "unset"
	}
	return string(s)
}

// IsValid returns true if the state is a known value
func (s LinkState) IsValid() bool {
	switch s {
	case LinkStatePending, LinkStateLeased, LinkStateDone, LinkStateFailed:
		return true
	}
	return false
}

// IsTerminal returns true for Done and Failed
func (s LinkState) IsTerminal() bool {
	return s == LinkStateDone || s == LinkStateFailed
}

// Outcome classifies how a leased link is released
type Outcome string

const (
	OutcomeRetry    Outcome = "retry"    // Back to Pending while attempts remain
	OutcomeTerminal Outcome = "terminal" // Straight to Failed
)

// CrawlerStatus is the fleet registry status of a worker
type CrawlerStatus string

const (
	CrawlerStatusUnknown  CrawlerStatus = ""         // Not registered
	CrawlerStatusActive   CrawlerStatus = "active"   // Running its loop
	CrawlerStatusInactive CrawlerStatus = "inactive" // Registered but stopped
)

// String implements fmt.Stringer for logging
func (s CrawlerStatus) String() string {
	if s == "" {
		return "unknown"
	}
	return string(s)
}

// IsValid returns true for active or inactive
func (s CrawlerStatus) IsValid() bool {
	return s == CrawlerStatusActive || s == CrawlerStatusInactive
}

// RejectReason names the trap guard check that rejected a response
type RejectReason string

const (
	RejectTooManyRedirects RejectReason = "TooManyRedirects"
	RejectRedirectLoop     RejectReason = "RedirectLoop"
	RejectDuplicateContent RejectReason = "DuplicateContent"
	RejectTooManyVisits    RejectReason = "TooManyVisits"
	RejectMalformedContent RejectReason = "MalformedContent"
	RejectPathTooDeep      RejectReason = "PathTooDeep"
)

// String implements fmt.Stringer for logging
func (r RejectReason) String() string {
	return string(r)
}
