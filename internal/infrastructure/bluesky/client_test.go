package bluesky

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/recallbot/internal/domain"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePDS struct {
	sessions  atomic.Int32
	records   atomic.Int32
	expireOne atomic.Bool
	status    int
	lastBody  map[string]interface{}
}

func (f *fakePDS) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/xrpc/com.atproto.server.createSession", func(w http.ResponseWriter, r *http.Request) {
		var in map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		if in["password"] != "app-pass" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"AuthenticationRequired","message":"Invalid identifier or password"}`))
			return
		}
		n := f.sessions.Add(1)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"accessJwt": "token-" + string(rune('0'+n)),
			"did":       "did:plc:bot",
			"handle":    in["identifier"],
		})
	})
	mux.HandleFunc("/xrpc/com.atproto.repo.createRecord", func(w http.ResponseWriter, r *http.Request) {
		if f.expireOne.CompareAndSwap(true, false) {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"ExpiredToken","message":"Token has expired"}`))
			return
		}
		if f.status != 0 {
			w.Header().Set("Retry-After", "12")
			w.WriteHeader(f.status)
			_, _ = w.Write([]byte(`{"error":"RateLimitExceeded"}`))
			return
		}
		assert.Contains(t, r.Header.Get("Authorization"), "Bearer token-")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&f.lastBody))
		f.records.Add(1)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"uri": "at://did:plc:bot/app.bsky.feed.post/3k" + string(rune('a'+f.records.Load())),
			"cid": "bafyrei",
		})
	})
	return mux
}

func newTestClient(t *testing.T, pds *fakePDS, password string, dryRun bool) *Client {
	t.Helper()
	srv := httptest.NewServer(pds.handler(t))
	t.Cleanup(srv.Close)
	c := NewClient(srv.URL, "recallbot.bsky.social", password, dryRun, zerolog.Nop())
	c.now = func() time.Time { return time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC) }
	return c
}

func draft() domain.Draft {
	return domain.Draft{
		RecallID:        "01J0000000000000000000000A",
		Title:           "FDA Recall",
		Text:            "🚨 RECALL ALERT (Food) 🚨\nPRODUCT: Peanut Butter",
		LinkURI:         "https://www.fda.gov/safety/recalls/acme",
		LinkTitle:       "Acme Peanut Butter",
		LinkDescription: "Category: Food\nReason: Salmonella",
		Langs:           []string{"en-US"},
	}
}

func TestPublish_CreatesRecordWithEmbed(t *testing.T) {
	pds := &fakePDS{}
	c := newTestClient(t, pds, "app-pass", false)

	rc, err := c.Publish(context.Background(), draft())
	require.NoError(t, err)
	assert.NotEmpty(t, rc.URI)
	assert.Equal(t, "bafyrei", rc.CID)
	assert.Contains(t, rc.Embed, embedExternal)
	assert.Contains(t, rc.Raw, "PRODUCT: Peanut Butter")

	assert.Equal(t, "did:plc:bot", pds.lastBody["repo"])
	assert.Equal(t, postCollection, pds.lastBody["collection"])
	record := pds.lastBody["record"].(map[string]interface{})
	assert.Equal(t, "2025-03-01T09:00:00Z", record["createdAt"])
	assert.Equal(t, []interface{}{"en-US"}, record["langs"])

	_, err = c.Publish(context.Background(), draft())
	require.NoError(t, err)
	assert.Equal(t, int32(1), pds.sessions.Load(), "session is reused")
}

func TestPublish_RenewsExpiredSession(t *testing.T) {
	pds := &fakePDS{}
	c := newTestClient(t, pds, "app-pass", false)
	_, err := c.Publish(context.Background(), draft())
	require.NoError(t, err)

	pds.expireOne.Store(true)
	_, err = c.Publish(context.Background(), draft())
	require.NoError(t, err)
	assert.Equal(t, int32(2), pds.sessions.Load())
	assert.Equal(t, int32(2), pds.records.Load())
}

func TestPublish_DryRunDoesNotCallService(t *testing.T) {
	pds := &fakePDS{}
	c := newTestClient(t, pds, "app-pass", true)

	rc, err := c.Publish(context.Background(), draft())
	require.NoError(t, err)
	assert.Empty(t, rc.URI)
	assert.Empty(t, rc.CID)
	assert.NotEmpty(t, rc.Raw)
	assert.Zero(t, pds.sessions.Load())
	assert.Zero(t, pds.records.Load())
}

func TestPublish_DryRunStillValidates(t *testing.T) {
	c := newTestClient(t, &fakePDS{}, "app-pass", true)
	d := draft()
	d.Text = ""
	_, err := c.Publish(context.Background(), d)
	assert.ErrorIs(t, err, domain.ErrBadRequest)

	d = draft()
	d.LinkURI = "not a url"
	_, err = c.Publish(context.Background(), d)
	assert.ErrorIs(t, err, domain.ErrBadRequest)
}

func TestPublish_TextTooLong(t *testing.T) {
	c := newTestClient(t, &fakePDS{}, "app-pass", true)
	d := draft()
	long := make([]rune, MaxGraphemes+1)
	for i := range long {
		long[i] = 'é'
	}
	d.Text = string(long)
	_, err := c.Publish(context.Background(), d)
	assert.ErrorIs(t, err, domain.ErrBadRequest)
}

func TestPublish_BadCredentials(t *testing.T) {
	c := newTestClient(t, &fakePDS{}, "wrong", false)
	_, err := c.Publish(context.Background(), draft())
	var ue *domain.UpstreamError
	require.True(t, errors.As(err, &ue))
	assert.Equal(t, http.StatusUnauthorized, ue.Status)
	assert.True(t, ue.Permanent())
}

func TestPublish_RateLimited(t *testing.T) {
	pds := &fakePDS{status: http.StatusTooManyRequests}
	c := newTestClient(t, pds, "app-pass", false)
	_, err := c.Publish(context.Background(), draft())
	var ue *domain.UpstreamError
	require.True(t, errors.As(err, &ue))
	assert.Equal(t, 12*time.Second, ue.RetryAfter)
	assert.Equal(t, "RateLimitExceeded", ue.Message)
}

func TestRetryAfter_RatelimitReset(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	h := http.Header{}
	h.Set("Ratelimit-Reset", "1700000030")
	assert.Equal(t, 30*time.Second, retryAfter(h, now))
	assert.Zero(t, retryAfter(http.Header{}, now))
}
