package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLinkState_String(t *testing.T) {
	tests := []struct {
		state LinkState
		want  string
	}{
		{LinkStateUnset, "unset"},
		{LinkStatePending, "pending"},
		{LinkStateLeased, "leased"},
		{LinkStateDone, "done"},
		{LinkStateFailed, "failed"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.state.String())
	}
}

func TestLinkState_IsValidAndTerminal(t *testing.T) {
	tests := []struct {
		state    LinkState
		valid    bool
		terminal bool
	}{
		{LinkStatePending, true, false},
		{LinkStateLeased, true, false},
		{LinkStateDone, true, true},
		{LinkStateFailed, true, true},
		{LinkStateUnset, false, false},
		{LinkState("arbitrary"), false, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.valid, tt.state.IsValid(), "LinkState(%q).IsValid()", string(tt.state))
		assert.Equal(t, tt.terminal, tt.state.IsTerminal(), "LinkState(%q).IsTerminal()", string(tt.state))
	}
}

func TestCrawlerStatus_String(t *testing.T) {
	assert.Equal(t, "unknown", CrawlerStatusUnknown.String())
	assert.Equal(t, "active", CrawlerStatusActive.String())
	assert.Equal(t, "inactive", CrawlerStatusInactive.String())
	assert.False(t, CrawlerStatusUnknown.IsValid())
	assert.True(t, CrawlerStatusActive.IsValid())
}

func TestLinkRecord_Claimable(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	timeout := 5 * time.Minute

	tests := []struct {
		name string
		rec  LinkRecord
		want bool
	}{
		{"pending", LinkRecord{State: LinkStatePending}, true},
		{"fresh lease", LinkRecord{State: LinkStateLeased, LastAttemptAt: now.Add(-time.Minute)}, false},
		{"expired lease", LinkRecord{State: LinkStateLeased, LastAttemptAt: now.Add(-6 * time.Minute)}, true},
		{"lease exactly at timeout", LinkRecord{State: LinkStateLeased, LastAttemptAt: now.Add(-timeout)}, true},
		{"done", LinkRecord{State: LinkStateDone, LastAttemptAt: now.Add(-time.Hour)}, false},
		{"failed", LinkRecord{State: LinkStateFailed}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.rec.Claimable(now, timeout))
		})
	}

	t.Run("zero timeout disables expiry", func(t *testing.T) {
		rec := LinkRecord{State: LinkStateLeased, LastAttemptAt: now.Add(-24 * time.Hour)}
		assert.False(t, rec.Claimable(now, 0))
	})
}

func TestResponse_Helpers(t *testing.T) {
	resp := &Response{StatusCode: 302, Header: map[string][]string{
		"Content-Type": {"text/HTML; charset=utf-8"},
		"Location":     {"https://example.com/next"},
	}}
	assert.True(t, resp.IsRedirect())
	assert.True(t, resp.IsHTML())
	assert.Equal(t, "https://example.com/next", resp.Location())

	plain := &Response{StatusCode: 307}
	assert.False(t, plain.IsRedirect())
	assert.False(t, plain.IsHTML())
	assert.Empty(t, plain.Location())
}
