package domain

import "strings"

// Category is the classification bucket of a raw portal status string.
type Category string

const (
	CategoryNotFound   Category = "not_found"
	CategoryInProgress Category = "in_progress"
	CategoryApproved   Category = "approved"
	CategoryDenied     Category = "denied"
	CategoryError      Category = "error"
)

type marker struct {
	category Category
	keywords []string
	sign     string
}

// The portal answers in Czech, with some statuses carrying HTML-limited
// markup. First matching marker wins; the order is significant because
// the error marker must not shadow a real status.
var statusMarkers = []marker{
	{CategoryNotFound, []string{"nebylo nalezeno", "bez úvodních nul"}, "⚪️"},
	{CategoryInProgress, []string{"zpracovává se", "v-prubehu-rizeni"}, "🟡"},
	{CategoryApproved, []string{"bylo povoleno", "bylo <b>povoleno</b>", "rizeni-povoleno"}, "🟢"},
	{CategoryDenied, []string{"bylo nepovoleno", "bylo <b>nepovoleno</b>", "zamítlo", "zastavilo"}, "🔴"},
	{CategoryError, []string{"ERROR"}, "🔴"},
}

// Categorize maps a raw status string to its category and visual sign.
// ok is false when no marker matches; the caller decides how to treat
// uncategorized statuses.
func Categorize(status string) (cat Category, sign string, ok bool) {
	for _, m := range statusMarkers {
		for _, kw := range m.keywords {
			if strings.Contains(status, kw) {
				return m.category, m.sign, true
			}
		}
	}
	return "", "", false
}

// StateOf maps a category to the stored application state. The error
// category and uncategorized statuses both land in UNKNOWN.
func StateOf(cat Category, ok bool) State {
	if !ok {
		return StateUnknown
	}
	switch cat {
	case CategoryNotFound:
		return StateNotFound
	case CategoryInProgress:
		return StateInProgress
	case CategoryApproved:
		return StateApproved
	case CategoryDenied:
		return StateDenied
	default:
		return StateUnknown
	}
}

// Terminal reports whether the category resolves the application.
func Terminal(cat Category) bool {
	return cat == CategoryApproved || cat == CategoryDenied
}
