package bluesky

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/recallbot/internal/domain"
	"github.com/recallbot/internal/pkg/validate"
	"github.com/rs/zerolog"
)

const (
	serviceName    = "bluesky"
	postCollection = "app.bsky.feed.post"
	embedExternal  = "app.bsky.embed.external"
	// MaxGraphemes is the post text limit; runes are used as the measure.
	MaxGraphemes = 300
)

// Record is an app.bsky.feed.post record.
type Record struct {
	Type      string   `json:"$type"`
	Text      string   `json:"text" validate:"required"`
	CreatedAt string   `json:"createdAt" validate:"required"`
	Langs     []string `json:"langs,omitempty"`
	Facets    []Facet  `json:"facets,omitempty"`
	Embed     *Embed   `json:"embed,omitempty" validate:"omitempty"`
}

type Embed struct {
	Type     string   `json:"$type"`
	External External `json:"external"`
}

type External struct {
	URI         string `json:"uri" validate:"required,url"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

type session struct {
	AccessJwt string `json:"accessJwt"`
	DID       string `json:"did"`
	Handle    string `json:"handle"`
}

type xrpcError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Client posts to Bluesky through the XRPC API. The session is created on
// first use and renewed once when the server reports an expired token.
type Client struct {
	service    string
	identifier string
	password   string
	dryRun     bool
	http       *http.Client
	now        func() time.Time
	log        zerolog.Logger

	mu   sync.Mutex
	sess *session
}

func NewClient(service, identifier, password string, dryRun bool, log zerolog.Logger) *Client {
	return &Client{
		service:    strings.TrimRight(service, "/"),
		identifier: identifier,
		password:   password,
		dryRun:     dryRun,
		http:       &http.Client{},
		now:        time.Now,
		log:        log.With().Str("component", "bluesky").Logger(),
	}
}

func (c *Client) Name() string { return serviceName }

// Publish creates a post for d. In dry-run mode the record is built and
// validated but never sent, and the receipt carries no uri or cid.
func (c *Client) Publish(ctx context.Context, d domain.Draft) (domain.Receipt, error) {
	rec, err := c.BuildRecord(d)
	if err != nil {
		return domain.Receipt{}, err
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return domain.Receipt{}, err
	}
	rc := domain.Receipt{Raw: string(raw)}
	if rec.Embed != nil {
		embed, err := json.Marshal(rec.Embed)
		if err != nil {
			return domain.Receipt{}, err
		}
		rc.Embed = string(embed)
	}
	if c.dryRun {
		c.log.Info().Str("recall_id", d.RecallID).Int("facets", len(rec.Facets)).Msg("dry run, post not sent")
		return rc, nil
	}

	out, err := c.createRecord(ctx, rec)
	if err != nil {
		return domain.Receipt{}, err
	}
	rc.URI = out.URI
	rc.CID = out.CID
	return rc, nil
}

// BuildRecord renders d into a post record and validates it.
func (c *Client) BuildRecord(d domain.Draft) (*Record, error) {
	rec := &Record{
		Type:      postCollection,
		Text:      d.Text,
		CreatedAt: c.now().UTC().Format(time.RFC3339Nano),
		Langs:     d.Langs,
		Facets:    DetectFacets(d.Text),
	}
	if d.LinkURI != "" {
		rec.Embed = &Embed{
			Type: embedExternal,
			External: External{
				URI:         d.LinkURI,
				Title:       d.LinkTitle,
				Description: d.LinkDescription,
			},
		}
	}
	if err := validate.Struct(rec); err != nil {
		return nil, err
	}
	if n := utf8.RuneCountInString(rec.Text); n > MaxGraphemes {
		return nil, fmt.Errorf("post text is %d characters, limit %d: %w", n, MaxGraphemes, domain.ErrBadRequest)
	}
	return rec, nil
}

type createRecordOutput struct {
	URI string `json:"uri"`
	CID string `json:"cid"`
}

func (c *Client) createRecord(ctx context.Context, rec *Record) (*createRecordOutput, error) {
	var out createRecordOutput
	for attempt := 0; ; attempt++ {
		sess, err := c.session(ctx)
		if err != nil {
			return nil, err
		}
		in := map[string]interface{}{
			"repo":       sess.DID,
			"collection": postCollection,
			"record":     rec,
		}
		err = c.call(ctx, "com.atproto.repo.createRecord", sess.AccessJwt, in, &out)
		if attempt == 0 && isExpired(err) {
			c.log.Debug().Msg("session expired, logging in again")
			c.dropSession(sess)
			continue
		}
		if err != nil {
			return nil, err
		}
		return &out, nil
	}
}

func (c *Client) session(ctx context.Context) (*session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess != nil {
		return c.sess, nil
	}
	if c.identifier == "" || c.password == "" {
		return nil, errors.New("bluesky credentials are not configured")
	}
	var s session
	in := map[string]string{"identifier": c.identifier, "password": c.password}
	if err := c.call(ctx, "com.atproto.server.createSession", "", in, &s); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	c.sess = &s
	c.log.Info().Str("handle", s.Handle).Msg("session created")
	return c.sess, nil
}

func (c *Client) dropSession(s *session) {
	c.mu.Lock()
	if c.sess == s {
		c.sess = nil
	}
	c.mu.Unlock()
}

func (c *Client) call(ctx context.Context, method, token string, in, out interface{}) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.service+"/xrpc/"+method, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var xe xrpcError
		_ = json.Unmarshal(data, &xe)
		msg := xe.Error
		if xe.Message != "" {
			msg = strings.TrimSpace(msg + ": " + xe.Message)
		}
		return &domain.UpstreamError{
			Service:    serviceName,
			Status:     resp.StatusCode,
			Message:    msg,
			RetryAfter: retryAfter(resp.Header, c.now()),
		}
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}

func isExpired(err error) bool {
	var ue *domain.UpstreamError
	if !errors.As(err, &ue) {
		return false
	}
	return ue.Status == http.StatusUnauthorized || strings.HasPrefix(ue.Message, "ExpiredToken")
}

// retryAfter reads Retry-After (seconds) or the ratelimit-reset epoch.
func retryAfter(h http.Header, now time.Time) time.Duration {
	if v := h.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	if v := h.Get("Ratelimit-Reset"); v != "" {
		if epoch, err := strconv.ParseInt(v, 10, 64); err == nil {
			if d := time.Unix(epoch, 0).Sub(now); d > 0 {
				return d
			}
		}
	}
	return 0
}
