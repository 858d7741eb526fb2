package fetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/appwatch/mvcr-status-bot/internal/messaging"
)

func TestHTTPEngineExtractsStatusBlock(t *testing.T) {
	var gotForm map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		gotForm = map[string]string{
			"number": r.FormValue("number"),
			"type":   r.FormValue("type"),
			"year":   r.FormValue("year"),
		}
		w.Write([]byte(`<html><body>
			<div class="alert alert--info"><div class="alert__content">
			Žádost OAM-12345/TP-2023 se zpracovává
			</div></div></body></html>`))
	}))
	defer srv.Close()

	e := NewHTTPEngine(srv.URL, 5*time.Second)
	defer e.Close()

	status, err := e.Fetch(context.Background(), job(messaging.RequestFetch))
	require.NoError(t, err)
	assert.Equal(t, "Žádost OAM-12345/TP-2023 se zpracovává", status)
	assert.Equal(t, map[string]string{"number": "12345", "type": "TP", "year": "2023"}, gotForm)
}

func TestHTTPEngineFailsWithoutStatusBlock(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`<html><body>nothing here</body></html>`))
	}))
	defer srv.Close()

	e := NewHTTPEngine(srv.URL, 5*time.Second)
	defer e.Close()

	_, err := e.Fetch(context.Background(), job(messaging.RequestFetch))
	assert.Error(t, err)
}

func TestHTTPEngineFailsOnServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	e := NewHTTPEngine(srv.URL, 5*time.Second)
	defer e.Close()

	_, err := e.Fetch(context.Background(), job(messaging.RequestFetch))
	assert.Error(t, err)
}
