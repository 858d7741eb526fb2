package fetcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/appwatch/mvcr-status-bot/internal/logger"
	"github.com/appwatch/mvcr-status-bot/internal/messaging"
)

// Engine fetches the raw status markup for one application from the
// portal. Implementations may block up to the page-load limit.
type Engine interface {
	Fetch(ctx context.Context, app *messaging.Message) (string, error)
	Close()
}

// alertRe extracts the status block from the portal response. The
// portal answers with HTML-limited markup inside an alert container.
var alertRe = regexp.MustCompile(`(?s)<div[^>]*class="[^"]*alert__content[^"]*"[^>]*>(.*?)</div>`)

// HTTPEngine submits the status form over plain HTTP.
type HTTPEngine struct {
	url    string
	client *http.Client
	log    zerolog.Logger
}

func NewHTTPEngine(portalURL string, pageLoadLimit time.Duration) *HTTPEngine {
	return &HTTPEngine{
		url: portalURL,
		client: &http.Client{
			Timeout: pageLoadLimit,
		},
		log: logger.Component("engine"),
	}
}

func (e *HTTPEngine) Fetch(ctx context.Context, app *messaging.Message) (string, error) {
	form := url.Values{
		"number": {app.Number},
		"suffix": {app.Suffix},
		"type":   {app.Type},
		"year":   {strconv.Itoa(int(app.Year))},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept-Language", "cs-CZ")

	resp, err := e.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("portal returned %s", resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}

	m := alertRe.FindSubmatch(body)
	if m == nil {
		e.log.Warn().Str("application", app.OAM()).Msg("no status block in portal response")
		return "", fmt.Errorf("no status block in portal response")
	}
	return strings.TrimSpace(string(m[1])), nil
}

func (e *HTTPEngine) Close() {
	e.client.CloseIdleConnections()
}
