package instantly

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// Remote lead status codes.
const (
	LeadStatusActive   = 1
	LeadStatusPaused   = 2
	LeadStatusFinished = 3
)

// FlexInt tolerates numbers, numeric strings, and null — the campaign
// service is not consistent about numeric field encoding.
type FlexInt int

// UnmarshalJSON implements json.Unmarshaler.
func (f *FlexInt) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*f = 0
		return nil
	}
	s := strings.Trim(string(data), `"`)
	if s == "" {
		*f = 0
		return nil
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		// Unparseable values degrade to zero rather than failing the
		// whole page; the classifier treats zero as "signal absent".
		*f = 0
		return nil
	}
	*f = FlexInt(n)
	return nil
}

// Int returns the value as a plain int.
func (f FlexInt) Int() int { return int(f) }

// FlexTime tolerates RFC3339, a date-time without zone, and null.
type FlexTime struct {
	time.Time
}

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// UnmarshalJSON implements json.Unmarshaler.
func (f *FlexTime) UnmarshalJSON(data []byte) error {
	s := strings.Trim(strings.TrimSpace(string(data)), `"`)
	if s == "" || s == "null" {
		f.Time = time.Time{}
		return nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			f.Time = t
			return nil
		}
	}
	f.Time = time.Time{}
	return nil
}

// Lead is the remote service's view of one enrolled lead.
type Lead struct {
	ID               string   `json:"id"`
	Email            string   `json:"email"`
	Campaign         string   `json:"campaign"`
	Status           FlexInt  `json:"status"`
	StatusText       string   `json:"status_text"`
	ESPCode          FlexInt  `json:"esp_code"`
	EmailReplyCount  FlexInt  `json:"email_reply_count"`
	Unsubscribed     bool     `json:"unsubscribed"`
	PauseUntil       FlexTime `json:"pause_until"`
	TimestampCreated FlexTime `json:"timestamp_created"`

	VerificationStatus  string  `json:"verification_status"`
	IsCatchAll          bool    `json:"is_catch_all"`
	VerificationCredits FlexInt `json:"verification_credits_used"`
}

// createLeadRequest is the payload for lead creation.
type createLeadRequest struct {
	Campaign       string            `json:"campaign"`
	Email          string            `json:"email"`
	FirstName      string            `json:"first_name,omitempty"`
	LastName       string            `json:"last_name,omitempty"`
	CompanyName    string            `json:"company_name,omitempty"`
	SkipIfInList   bool              `json:"skip_if_in_campaign"`
	CustomVars     map[string]string `json:"custom_variables,omitempty"`
	VerifyOnImport bool              `json:"verify_leads_on_import,omitempty"`
}

type createLeadResponse struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// listLeadsRequest is the payload for cursor-paginated listing.
type listLeadsRequest struct {
	Campaign      string `json:"campaign"`
	Limit         int    `json:"limit"`
	StartingAfter string `json:"starting_after,omitempty"`
}

type listLeadsResponse struct {
	Items             []Lead `json:"items"`
	NextStartingAfter string `json:"next_starting_after"`
}

type verificationResponse struct {
	Email              string `json:"email"`
	VerificationStatus string `json:"verification_status"`
	Status             string `json:"status"`
	IsCatchAll         bool   `json:"is_catch_all"`
	CreditsUsed        int    `json:"credits_used"`
}

// statusValue returns whichever status field the service populated.
func (r verificationResponse) statusValue() string {
	if r.VerificationStatus != "" {
		return r.VerificationStatus
	}
	return r.Status
}

func mustJSON(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err) // request types marshal by construction
	}
	return data
}
