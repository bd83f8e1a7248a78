package hunter

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/outreach-cli/internal/resilience"
)

func TestDomainSearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/domain-search", r.URL.Path)
		assert.Equal(t, "b.test", r.URL.Query().Get("domain"))
		assert.Equal(t, "k", r.URL.Query().Get("api_key"))
		assert.Equal(t, "5", r.URL.Query().Get("limit"))
		_, _ = w.Write([]byte(`{"data":{"domain":"b.test","organization":"B","emails":[
			{"value":"ops@b.test","type":"generic","confidence":90},
			{"value":"ann@b.test","type":"personal","confidence":71,"first_name":"Ann","position":"Owner"}
		]}}`))
	}))
	defer srv.Close()

	resp, err := NewClient("k", WithBaseURL(srv.URL)).DomainSearch(context.Background(), "b.test", 5)
	require.NoError(t, err)
	require.Len(t, resp.Data.Emails, 2)
	assert.Equal(t, "ops@b.test", resp.Data.Emails[0].Value)
	assert.Equal(t, 90, resp.Data.Emails[0].Confidence)
	assert.Equal(t, "Ann", resp.Data.Emails[1].FirstName)
	assert.Contains(t, string(resp.Raw), `"organization":"B"`)
}

func TestVerifyEmail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/email-verifier", r.URL.Path)
		assert.Equal(t, "contact@a.test", r.URL.Query().Get("email"))
		_, _ = w.Write([]byte(`{"data":{"email":"contact@a.test","status":"valid","result":"deliverable","score":94}}`))
	}))
	defer srv.Close()

	resp, err := NewClient("k", WithBaseURL(srv.URL)).VerifyEmail(context.Background(), "contact@a.test")
	require.NoError(t, err)
	assert.Equal(t, "valid", resp.Data.Status)
	assert.Equal(t, 94, resp.Data.Score)
	assert.NotEmpty(t, resp.Raw)
}

func TestVerifyEmail_StillRunningIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	_, err := NewClient("k", WithBaseURL(srv.URL)).VerifyEmail(context.Background(), "x@a.test")
	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))
}

func TestErrors(t *testing.T) {
	for status, transient := range map[int]bool{
		http.StatusUnauthorized:        false,
		http.StatusBadRequest:          false,
		http.StatusTooManyRequests:     true,
		http.StatusInternalServerError: true,
	} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(status)
		}))
		_, err := NewClient("k", WithBaseURL(srv.URL)).DomainSearch(context.Background(), "a.test", 0)
		srv.Close()
		require.Error(t, err, "status %d", status)
		assert.Equal(t, transient, resilience.IsTransient(err), "status %d", status)
	}
}
