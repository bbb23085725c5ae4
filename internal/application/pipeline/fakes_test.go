package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/recallbot/internal/domain"
	"github.com/rs/zerolog"
)

// memStore is an in-memory Store with the same conflict semantics as the
// real adapters.
type memStore struct {
	mu      sync.Mutex
	sources map[string]domain.Source
	recalls map[string]domain.Recall // by recall id
	byKey   map[string]string        // natural key -> recall id
	posts   map[string]domain.Post   // by uri
	runs    map[string]domain.Run
	intents map[string]domain.Intent
	order   []string // recall ids in insertion order

	failInsertRecalls error
	failInsertPosts   error
	insertPostsCalls  int
}

func newMemStore(sourceKeys ...string) *memStore {
	s := &memStore{
		sources: map[string]domain.Source{},
		recalls: map[string]domain.Recall{},
		byKey:   map[string]string{},
		posts:   map[string]domain.Post{},
		runs:    map[string]domain.Run{},
		intents: map[string]domain.Intent{},
	}
	for i, k := range sourceKeys {
		s.sources[k] = domain.Source{SourceID: fmt.Sprintf("src-%d", i+1), Key: k, Name: k}
	}
	return s
}

func (s *memStore) GetSourceByKey(_ context.Context, key string) (*domain.Source, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	src, ok := s.sources[key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &src, nil
}

func (s *memStore) InsertRecallsSkipDuplicates(_ context.Context, recalls []domain.Recall) ([]domain.Recall, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failInsertRecalls != nil {
		return nil, s.failInsertRecalls
	}
	var out []domain.Recall
	for _, r := range recalls {
		if _, ok := s.byKey[r.NaturalKey]; ok {
			continue
		}
		s.byKey[r.NaturalKey] = r.RecallID
		s.recalls[r.RecallID] = r
		s.order = append(s.order, r.RecallID)
		out = append(out, r)
	}
	return out, nil
}

func (s *memStore) SelectRecallsWithoutPost(_ context.Context, ids []string) ([]domain.Recall, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ids == nil {
		ids = s.order
	}
	withPost := map[string]bool{}
	for _, p := range s.posts {
		withPost[p.RecallID] = true
	}
	var out []domain.Recall
	for _, id := range ids {
		r, ok := s.recalls[id]
		if !ok || withPost[id] {
			continue
		}
		if in, ok := s.intents[id]; ok && in.Status != domain.IntentFailed {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *memStore) InsertPostsSkipDuplicates(_ context.Context, posts []domain.Post) ([]domain.Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.insertPostsCalls++
	if s.failInsertPosts != nil {
		return nil, s.failInsertPosts
	}
	var out []domain.Post
	for _, p := range posts {
		if p.URI == "" {
			return out, errors.New("empty uri")
		}
		if _, ok := s.posts[p.URI]; ok {
			continue
		}
		s.posts[p.URI] = p
		out = append(out, p)
	}
	return out, nil
}

func (s *memStore) CreateRun(_ context.Context, run *domain.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[run.RunID] = cloneRun(*run)
	return nil
}

func (s *memStore) UpdateRun(_ context.Context, run *domain.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[run.RunID]; !ok {
		return domain.ErrNotFound
	}
	s.runs[run.RunID] = cloneRun(*run)
	return nil
}

func (s *memStore) GetRun(_ context.Context, runID string) (*domain.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[runID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	c := cloneRun(r)
	return &c, nil
}

func (s *memStore) ListRuns(_ context.Context, sourceKey string, statuses ...domain.RunStatus) ([]domain.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Run
	for _, r := range s.runs {
		if r.SourceKey != sourceKey {
			continue
		}
		for _, st := range statuses {
			if r.Status == st {
				out = append(out, cloneRun(r))
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RunID < out[j].RunID })
	return out, nil
}

func (s *memStore) BeginIntent(_ context.Context, in *domain.Intent) (*domain.Intent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.intents[in.RecallID]; ok {
		if cur.Status != domain.IntentFailed {
			return &cur, domain.ErrConflict
		}
		in.Attempts = cur.Attempts + 1
		in.CreatedAt = cur.CreatedAt
	}
	s.intents[in.RecallID] = *in
	return in, nil
}

func (s *memStore) CompleteIntent(_ context.Context, recallID string, rc domain.Receipt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	in, ok := s.intents[recallID]
	if !ok || in.Status != domain.IntentPending {
		return domain.ErrConflict
	}
	in.Status = domain.IntentPublished
	in.URI, in.CID, in.Raw, in.Embed = rc.URI, rc.CID, rc.Raw, rc.Embed
	s.intents[recallID] = in
	return nil
}

func (s *memStore) FailIntent(_ context.Context, recallID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	in, ok := s.intents[recallID]
	if !ok || in.Status != domain.IntentPending {
		return domain.ErrConflict
	}
	in.Status = domain.IntentFailed
	in.Error = reason
	s.intents[recallID] = in
	return nil
}

func (s *memStore) ReleaseIntent(_ context.Context, recallID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	in, ok := s.intents[recallID]
	if !ok {
		return domain.ErrNotFound
	}
	if in.Status == domain.IntentPublished {
		return domain.ErrConflict
	}
	delete(s.intents, recallID)
	return nil
}

func (s *memStore) ListIntents(_ context.Context, status domain.IntentStatus, recallIDs []string) ([]domain.Intent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var want map[string]bool
	if recallIDs != nil {
		want = map[string]bool{}
		for _, id := range recallIDs {
			want[id] = true
		}
	}
	var out []domain.Intent
	for _, in := range s.intents {
		if in.Status != status || (want != nil && !want[in.RecallID]) {
			continue
		}
		out = append(out, in)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RecallID < out[j].RecallID })
	return out, nil
}

func (s *memStore) recallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.recalls)
}

func (s *memStore) postCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.posts)
}

func (s *memStore) recallIDByKey(key string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.byKey[key]
}

func cloneRun(r domain.Run) domain.Run {
	r.RecallIDs = append([]string(nil), r.RecallIDs...)
	return r
}

// stubFetcher returns the queued results in order, then repeats the last.
type stubFetcher struct {
	mu      sync.Mutex
	results []fetchResult
	calls   int
}

type fetchResult struct {
	cands []domain.Candidate
	err   error
}

func (f *stubFetcher) Fetch(ctx context.Context) ([]domain.Candidate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.calls
	if i >= len(f.results) {
		i = len(f.results) - 1
	}
	f.calls++
	r := f.results[i]
	return r.cands, r.err
}

// stubBroadcaster records every publish and fails for the recall ids in fail.
type stubBroadcaster struct {
	mu      sync.Mutex
	dryRun  bool
	fail    map[string]error
	calls   []string
	counter int
}

func (b *stubBroadcaster) Name() string { return "stub" }

func (b *stubBroadcaster) Publish(_ context.Context, d domain.Draft) (domain.Receipt, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, d.RecallID)
	if err := b.fail[d.RecallID]; err != nil {
		return domain.Receipt{}, err
	}
	if b.dryRun {
		return domain.Receipt{}, nil
	}
	b.counter++
	return domain.Receipt{
		URI: fmt.Sprintf("at://did:plc:test/app.bsky.feed.post/%d", b.counter),
		CID: fmt.Sprintf("cid%d", b.counter),
		Raw: `{"recall":"` + d.RecallID + `"}`,
	}, nil
}

func (b *stubBroadcaster) publishedFor(recallID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, id := range b.calls {
		if id == recallID {
			n++
		}
	}
	return n
}

func (b *stubBroadcaster) callCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.calls)
}

type recordingAlerter struct {
	mu   sync.Mutex
	runs []domain.Run
}

func (a *recordingAlerter) RunFailed(_ context.Context, run domain.Run) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.runs = append(a.runs, run)
	return nil
}

func candidate(key, product string) domain.Candidate {
	return domain.Candidate{
		NaturalKey: "https://www.fda.gov/safety/recalls/" + key,
		LinkText:   product + " recall",
		Product:    product,
		Category:   "Food &amp; Beverages",
		Reason:     "Undeclared allergen",
		Company:    "Acme",
	}
}

func newTestPipeline(store *memStore, fetcher Fetcher, b *stubBroadcaster, dryRun bool) *pipeline {
	p := newPipeline(Config{
		DryRun:        dryRun,
		FetchPolicy:   RetryPolicy{MaxAttempts: 5, Base: time.Minute, MaxDelay: 10 * time.Minute},
		PublishPolicy: RetryPolicy{MaxAttempts: 3, Base: time.Second, MaxDelay: time.Minute},
	}, Deps{
		Store:       store,
		Fetchers:    map[string]Fetcher{"US-FDA": fetcher, "XX": fetcher},
		Broadcaster: b,
		Logger:      zerolog.Nop(),
	})
	p.sleep = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }
	return p
}
