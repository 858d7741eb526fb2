package messaging

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeYearForms(t *testing.T) {
	intYear := []byte(`{"chat_id":42,"number":"12345","suffix":"0","type":"TP","year":2023,"request_type":"fetch","last_updated":"0"}`)
	strYear := []byte(`{"chat_id":42,"number":"12345","suffix":"0","type":"TP","year":"2023","request_type":"fetch","last_updated":"0"}`)

	m1, err := Decode(intYear)
	require.NoError(t, err)
	m2, err := Decode(strYear)
	require.NoError(t, err)

	assert.Equal(t, Year(2023), m1.Year)
	assert.Equal(t, Year(2023), m2.Year)
	assert.Equal(t, m1.Fingerprint(), m2.Fingerprint())
}

func TestDecodeBadYear(t *testing.T) {
	_, err := Decode([]byte(`{"chat_id":42,"year":"twenty","request_type":"fetch","last_updated":"0"}`))
	require.Error(t, err)
}

func TestFingerprintExcludesStatus(t *testing.T) {
	req := &Message{
		ChatID: 42, Number: "12345", Suffix: "0", Type: "TP", Year: 2023,
		RequestType: RequestRefresh, LastUpdated: "2023-06-01T12:00:00",
	}
	reply := *req
	reply.Status = "zpracovává se"
	reply.Failed = true

	assert.Equal(t, req.Fingerprint(), reply.Fingerprint())
}

func TestFingerprintDistinguishesWindow(t *testing.T) {
	a := &Message{ChatID: 42, Number: "12345", Type: "TP", Year: 2023, RequestType: RequestRefresh, LastUpdated: "0"}
	b := *a
	b.LastUpdated = "2023-06-01T12:00:00"
	c := *a
	c.RequestType = RequestFetch

	assert.NotEqual(t, a.Fingerprint(), b.Fingerprint())
	assert.NotEqual(t, a.Fingerprint(), c.Fingerprint())
}

func TestEncodeYearNumeric(t *testing.T) {
	m := &Message{ChatID: 42, Number: "12345", Type: "TP", Year: 2023, RequestType: RequestFetch, LastUpdated: "0"}
	body, err := m.Encode()
	require.NoError(t, err)

	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(body, &raw))
	assert.Equal(t, "2023", string(raw["year"]))
}
