// Package payout manages provider earnings balances and payout settlement.
//
// Flow:
//  1. Provider earns → balance credited
//  2. Provider requests a payout → funds locked: balance debited, request created PENDING
//  3. Settlement worker fires after the settlement delay → COMPLETED
//  4. A failed settlement → FAILED, locked funds restored to the balance
package payout

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrRequestNotFound = errors.New("payout: request not found")
	ErrAlreadySettled  = errors.New("payout: request already settled")
	ErrProviderUnknown = errors.New("payout: provider not found")
)

// Amount bounds in pesewas (hundredths of a cedi).
const (
	MinAmount = 10_00
	MaxAmount = 5000_00
)

// Status represents the settlement state of a payout request.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING" // transient, held only while the worker settles
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
)

// Method identifies the payout channel.
type Method string

const (
	MethodMTN        Method = "MTN"
	MethodVodafone   Method = "VODAFONE"
	MethodAirtelTigo Method = "AIRTELTIGO"
	MethodBank       Method = "BANK"
)

// ValidMethod returns true if the payout method is recognised.
func ValidMethod(m Method) bool {
	switch m {
	case MethodMTN, MethodVodafone, MethodAirtelTigo, MethodBank:
		return true
	}
	return false
}

// Request is a payout request. After reaching a terminal state it is never
// mutated again.
type Request struct {
	ID            string     `json:"id"`
	ProviderID    string     `json:"providerId"`
	Amount        Amount     `json:"amount"`
	Method        Method     `json:"method"`
	AccountNumber string     `json:"accountNumber"`
	AccountName   string     `json:"accountName"`
	Status        Status     `json:"status"`
	Reference     string     `json:"reference"`
	FailureReason string     `json:"failureReason,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	SettleAt      time.Time  `json:"-"`
	CompletedAt   *time.Time `json:"completedAt,omitempty"`
}

// IsTerminal returns true if the request reached a final state.
func (r *Request) IsTerminal() bool {
	return r.Status == StatusCompleted || r.Status == StatusFailed
}

// Amount is a fixed-point money value in pesewas. It marshals as a decimal
// string with two places, e.g. "1040.00".
type Amount int64

func (a Amount) String() string {
	v := int64(a)
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/100, v%100)
}

// MarshalJSON renders the amount as a quoted decimal string.
func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(`"` + a.String() + `"`), nil
}

// ParseAmount converts a decimal string into pesewas. At most two fractional
// digits are accepted; anything finer has no money representation here.
func ParseAmount(s string) (Amount, bool) {
	s = strings.TrimSpace(s)
	if s == "" || s == "-" || s == "." {
		return 0, false
	}
	neg := false
	if strings.HasPrefix(s, "-") {
		neg = true
		s = s[1:]
	}

	whole, frac := s, ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		whole, frac = s[:i], s[i+1:]
	}
	if whole == "" && frac == "" {
		return 0, false
	}
	if len(frac) > 2 {
		return 0, false
	}
	for len(frac) < 2 {
		frac += "0"
	}

	var cents int64
	for _, c := range whole + frac {
		if c < '0' || c > '9' {
			return 0, false
		}
		cents = cents*10 + int64(c-'0')
		if cents > 1<<53 {
			return 0, false
		}
	}
	if neg {
		cents = -cents
	}
	return Amount(cents), true
}
