package transport

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateKeySendsSignedRequestAndParsesResponse(t *testing.T) {
	var gotUses int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v0/encryption/key", r.URL.Path)
		assert.NotEmpty(t, r.Header.Get("Ubiq-Signature"))
		assert.Equal(t, "test-ak", r.Header.Get("Ubiq-Access-Key"))

		var req CreateKeyRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		gotUses = req.Uses

		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(CreateKeyResponse{
			EncryptedPrivateKey: "pem",
			EncryptionSession:   "sess-1",
			KeyFingerprint:      "fp-1",
			WrappedDataKey:      "d2s=",
			EncryptedDataKey:    "d2s=",
			MaxUses:             5,
			SecurityModel:       SecurityModel{Algorithm: "AES-256-GCM"},
		})
	}))
	defer server.Close()

	client := New(server.URL, "test-ak", "test-sk")
	resp, err := client.CreateKey(t.Context(), 5)
	require.NoError(t, err)
	assert.Equal(t, 5, gotUses)
	assert.Equal(t, "fp-1", resp.KeyFingerprint)
	assert.Equal(t, 5, resp.MaxUses)
}

func TestCreateKeyPropagatesUnexpectedStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("boom"))
	}))
	defer server.Close()

	client := New(server.URL, "ak", "sk")
	_, err := client.CreateKey(t.Context(), 1)
	require.Error(t, err)
}

func TestReportUsageSendsRequestedAndActual(t *testing.T) {
	var gotPath string
	var gotBody ReportUsageRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client := New(server.URL, "ak", "sk")
	err := client.ReportUsage(t.Context(), "fp-1", "sess-1", 10, 3)
	require.NoError(t, err)
	assert.Equal(t, "/api/v0/encryption/key/fp-1/sess-1", gotPath)
	assert.Equal(t, ReportUsageRequest{Requested: 10, Actual: 3}, gotBody)
}
