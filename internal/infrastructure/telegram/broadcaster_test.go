package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/recallbot/internal/domain"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const token = "123:abc"

func botAPI(t *testing.T, reply func(w http.ResponseWriter, params map[string]interface{})) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/bot"+token+"/sendMessage", r.URL.Path)
		params := map[string]interface{}{}
		_ = json.NewDecoder(r.Body).Decode(&params)
		reply(w, params)
	}))
	t.Cleanup(srv.Close)
	return srv.URL
}

func testDraft() domain.Draft {
	return domain.Draft{RecallID: "r1", Text: "RECALL ALERT", LinkURI: "https://www.fda.gov/x"}
}

func TestPublish_PublicChannel(t *testing.T) {
	var sent map[string]interface{}
	url := botAPI(t, func(w http.ResponseWriter, params map[string]interface{}) {
		sent = params
		_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":42,"date":1700000000,"chat":{"id":-1001,"type":"channel","username":"fdarecalls"}}}`))
	})
	b, err := New(token, "@fdarecalls", url, 0, false, zerolog.Nop())
	require.NoError(t, err)

	rc, err := b.Publish(context.Background(), testDraft())
	require.NoError(t, err)
	assert.Equal(t, "https://t.me/fdarecalls/42", rc.URI)
	assert.Equal(t, "42", rc.CID)
	assert.Equal(t, "@fdarecalls", sent["chat_id"])
	assert.Equal(t, "RECALL ALERT\n\nhttps://www.fda.gov/x", sent["text"])
}

func TestPublish_PrivateChat(t *testing.T) {
	url := botAPI(t, func(w http.ResponseWriter, _ map[string]interface{}) {
		_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":7,"date":1700000000,"chat":{"id":-1002,"type":"channel"}}}`))
	})
	b, err := New(token, "-1002", url, 0, false, zerolog.Nop())
	require.NoError(t, err)

	rc, err := b.Publish(context.Background(), testDraft())
	require.NoError(t, err)
	assert.Equal(t, "tg://-1002/7", rc.URI)
}

func TestPublish_FloodWait(t *testing.T) {
	url := botAPI(t, func(w http.ResponseWriter, _ map[string]interface{}) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"ok":false,"error_code":429,"description":"Too Many Requests: retry after 5","parameters":{"retry_after":5}}`))
	})
	b, err := New(token, "@fdarecalls", url, 0, false, zerolog.Nop())
	require.NoError(t, err)

	_, err = b.Publish(context.Background(), testDraft())
	var ue *domain.UpstreamError
	require.True(t, errors.As(err, &ue))
	assert.Equal(t, http.StatusTooManyRequests, ue.Status)
	assert.Equal(t, 5*time.Second, ue.RetryAfter)
}

func TestPublish_DryRunAndValidation(t *testing.T) {
	b, err := New(token, "@fdarecalls", "http://127.0.0.1:1", 0, true, zerolog.Nop())
	require.NoError(t, err)

	rc, err := b.Publish(context.Background(), testDraft())
	require.NoError(t, err)
	assert.Empty(t, rc.URI)

	d := testDraft()
	d.Text = ""
	_, err = b.Publish(context.Background(), d)
	assert.ErrorIs(t, err, domain.ErrBadRequest)
}

func TestNew_RequiresTokenAndChannel(t *testing.T) {
	_, err := New("", "@x", "", 0, false, zerolog.Nop())
	assert.Error(t, err)
	_, err = New(token, " ", "", 0, false, zerolog.Nop())
	assert.Error(t, err)
}

// hangingBotAPI never answers until the test ends.
func hangingBotAPI(t *testing.T) string {
	t.Helper()
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })
	return srv.URL
}

func TestPublish_ReturnsWhenContextEnds(t *testing.T) {
	b, err := New(token, "@fdarecalls", hangingBotAPI(t), time.Minute, false, zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err = b.Publish(ctx, testDraft())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestPublish_RequestTimeout(t *testing.T) {
	b, err := New(token, "@fdarecalls", hangingBotAPI(t), 50*time.Millisecond, false, zerolog.Nop())
	require.NoError(t, err)

	start := time.Now()
	_, err = b.Publish(context.Background(), testDraft())
	assert.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
}
