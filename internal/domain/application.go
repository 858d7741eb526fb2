package domain

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// State is the lifecycle state of an application as derived from the
// portal status text.
type State string

const (
	StateUnknown    State = "UNKNOWN"
	StateNotFound   State = "NOT_FOUND"
	StateInProgress State = "IN_PROGRESS"
	StateApproved   State = "APPROVED"
	StateDenied     State = "DENIED"
)

// AllowedTypes are the application types the portal form accepts.
var AllowedTypes = []string{"CD", "DO", "DP", "DV", "MK", "PP", "ST", "TP", "VP", "ZK", "ZM"}

// PopularTypes are shown first in the subscription dialog.
var PopularTypes = []string{"DP", "TP", "ZM", "ST", "MK", "DV"}

// Application is one tracked subscription of a user.
type Application struct {
	ID        int64
	ChatID    int64
	Number    string
	Suffix    string
	Type      string
	Year      int
	Status    string
	State     State
	Resolved  bool
	CreatedAt time.Time
	// LastUpdated is the time of the last observation, ChangedAt of the
	// last transition. Both are zero until the first fetch completes.
	LastUpdated time.Time
	ChangedAt   time.Time
}

// OAMString renders the canonical application identifier, e.g.
// OAM-12345/TP-2023 or OAM-12345-2/TP-2023 when a suffix is present.
func OAMString(number, suffix, typ string, year int) string {
	if suffix != "" && suffix != "0" {
		return fmt.Sprintf("OAM-%s-%s/%s-%d", number, suffix, typ, year)
	}
	return fmt.Sprintf("OAM-%s/%s-%d", number, typ, year)
}

func (a *Application) OAM() string {
	return OAMString(a.Number, a.Suffix, a.Type, a.Year)
}

func (a *Application) Key() string {
	return fmt.Sprintf("%s/%s-%d", a.Number, a.Type, a.Year)
}

// The portal identifier grammar: optional OAM- prefix, up to five leading
// zeros stripped from the number, optional numeric suffix, two-letter
// type and a four-digit year.
var (
	fullRe   = regexp.MustCompile(`^(OAM-)?0{0,5}([1-9][0-9]{0,4})(-([0-9]{1,2}))?/([A-Z]{2})-([0-9]{4})$`)
	numberRe = regexp.MustCompile(`^(OAM-)?0{0,5}([1-9][0-9]{0,4})(-([0-9]{1,2}))?$`)
)

// ParseOAM parses a full application identifier. Leading zeros are
// normalized away so OAM-012345/TP-2023 and 12345/TP-2023 are the same
// application.
func ParseOAM(s string) (number, suffix, typ string, year int, err error) {
	m := fullRe.FindStringSubmatch(s)
	if m == nil {
		return "", "", "", 0, fmt.Errorf("malformed application number: %q", s)
	}
	number = m[2]
	suffix = m[4]
	if suffix == "" {
		suffix = "0"
	}
	typ = m[5]
	year, _ = strconv.Atoi(m[6])
	return number, suffix, typ, year, nil
}

// ParseNumber parses just the number part, with optional OAM- prefix and
// suffix, as typed in the subscription dialog before type and year are
// chosen.
func ParseNumber(s string) (number, suffix string, err error) {
	m := numberRe.FindStringSubmatch(s)
	if m == nil {
		return "", "", fmt.Errorf("malformed application number: %q", s)
	}
	number = m[2]
	suffix = m[4]
	if suffix == "" {
		suffix = "0"
	}
	return number, suffix, nil
}

// ValidType reports whether t is an application type the portal accepts.
func ValidType(t string) bool {
	for _, a := range AllowedTypes {
		if a == t {
			return true
		}
	}
	return false
}

// AllowedYears returns the selectable years: current year minus three up
// to the current year.
func AllowedYears(now time.Time) []int {
	cur := now.Year()
	years := make([]int, 0, 4)
	for y := cur - 3; y <= cur; y++ {
		years = append(years, y)
	}
	return years
}

// ValidYear reports whether y falls within the allowed range.
func ValidYear(y int, now time.Time) bool {
	return y >= now.Year()-3 && y <= now.Year()
}
