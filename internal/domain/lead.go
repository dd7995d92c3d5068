package domain

import "strings"

// Lead is a candidate prospect read from the analytical store. Immutable
// for the duration of a sync cycle; the engine never writes lead facts back.
type Lead struct {
	Email         string  `json:"email" db:"email"`
	Company       string  `json:"company" db:"company"`
	Domain        string  `json:"domain" db:"domain"`
	State         string  `json:"state,omitempty" db:"state"`
	CountryCode   string  `json:"country_code,omitempty" db:"country_code"`
	AnnualRevenue float64 `json:"annual_revenue" db:"annual_revenue"`
}

// NormalizeEmail lowercases and trims an address. Every key the engine
// stores or compares goes through this; the remote service is case-sloppy
// about addresses and the selection query is not.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// EmailDomain returns the domain part of an address, or "" if malformed.
func EmailDomain(email string) string {
	at := strings.LastIndex(email, "@")
	if at < 0 || at == len(email)-1 {
		return ""
	}
	return strings.ToLower(email[at+1:])
}

// Segment identifies which campaign bucket a lead belongs to.
type Segment string

const (
	SegmentSMB     Segment = "smb"
	SegmentMidsize Segment = "midsize"
)

// SegmentFor partitions a lead by its revenue estimate against the
// configured threshold.
func SegmentFor(lead Lead, revenueThreshold float64) Segment {
	if lead.AnnualRevenue >= revenueThreshold {
		return SegmentMidsize
	}
	return SegmentSMB
}
