package messaging

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/appwatch/mvcr-status-bot/internal/domain"
)

// Queue names. The first four are durable; the metrics queue is
// transient with a short per-message TTL.
const (
	ApplicationFetchQueue = "ApplicationFetchQueue"
	RefreshStatusQueue    = "RefreshStatusQueue"
	StatusUpdateQueue     = "StatusUpdateQueue"
	ExpirationQueue       = "ExpirationQueue"
	FetcherMetricsQueue   = "FetcherMetricsQueue"
)

// RetryCountHeader carries the bounded-retry counter on republished jobs.
const RetryCountHeader = "x-retry-count"

// Request types carried in a job message.
const (
	RequestFetch   = "fetch"
	RequestRefresh = "refresh"
	RequestExpire  = "expire"
)

// Message is the wire schema shared by job and status-update messages.
// LastUpdated is an ISO timestamp string, "0" when the application has
// never been observed.
type Message struct {
	ChatID        int64  `json:"chat_id"`
	Number        string `json:"number"`
	Suffix        string `json:"suffix"`
	Type          string `json:"type"`
	Year          Year   `json:"year"`
	RequestType   string `json:"request_type"`
	ForceRefresh  bool   `json:"force_refresh"`
	Failed        bool   `json:"failed"`
	IsReminder    bool   `json:"is_reminder,omitempty"`
	LastUpdated   string `json:"last_updated"`
	Status        string `json:"status,omitempty"`
	ApplicationID int64  `json:"application_id,omitempty"`
}

// Year tolerates both numeric and string encodings on the wire.
type Year int

func (y *Year) UnmarshalJSON(data []byte) error {
	var n int
	if err := json.Unmarshal(data, &n); err == nil {
		*y = Year(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("year is neither int nor string: %s", data)
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("year %q is not numeric", s)
	}
	*y = Year(n)
	return nil
}

func (y Year) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Itoa(int(y))), nil
}

// Fingerprint identifies the request for a given observation window. It
// deliberately excludes the status text so that a reply carries the same
// fingerprint as the request that produced it.
func (m *Message) Fingerprint() string {
	uid := fmt.Sprintf("%s_%d_%s_%s_%d_%s",
		m.RequestType, m.ChatID, m.Number, m.Type, int(m.Year), m.LastUpdated)
	sum := md5.Sum([]byte(uid))
	return hex.EncodeToString(sum[:])
}

// OAM renders the canonical application identifier for logging.
func (m *Message) OAM() string {
	return domain.OAMString(m.Number, m.Suffix, m.Type, int(m.Year))
}

func Decode(body []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(body, &m); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}
	return &m, nil
}

func (m *Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}
