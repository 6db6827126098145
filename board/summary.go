package board

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	log "github.com/sirupsen/logrus"

	"kanban-api/domain"
	"kanban-api/summary"
)

const (
	// DefaultSummaryDebounce coalesces bursts of edits into one request.
	DefaultSummaryDebounce = time.Second
	summaryFreshness       = 5 * time.Minute
	signaturePrefixRunes   = 50
	samplePerColumn        = 5
	sampleContentRunes     = 60
)

var errNoSummaryClient = errors.New("summary client not configured")

// SummaryClient calls the summary endpoint.
type SummaryClient interface {
	GenerateSummary(ctx context.Context, req domain.SummaryRequest) (domain.SummaryResponse, error)
}

type summaryCacheEntry struct {
	text        string
	fallback    bool
	generatedAt time.Time
	signature   string
}

// SummaryRequester produces the status sentence of a board. Identical
// snapshots inside the freshness window are answered from cache.
type SummaryRequester struct {
	client   SummaryClient
	log      *log.Logger
	debounce time.Duration
	now      func() time.Time
	onResult func(domain.SummaryResponse)

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	cache   *summaryCacheEntry
	timer   *time.Timer
	pending []domain.ViewTask
}

// NewSummaryRequester creates a requester. onResult receives the outcome of
// every debounced request; it may be nil.
func NewSummaryRequester(client SummaryClient, debounce time.Duration, logger *log.Logger, onResult func(domain.SummaryResponse)) *SummaryRequester {
	if debounce <= 0 {
		debounce = DefaultSummaryDebounce
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &SummaryRequester{
		client:   client,
		log:      logger,
		debounce: debounce,
		now:      time.Now,
		onResult: onResult,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Signature identifies a task snapshot by id, column, name and the first 50
// runes of content.
func Signature(tasks []domain.ViewTask) string {
	var b strings.Builder
	for i, t := range tasks {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(t.ID)
		b.WriteByte('|')
		b.WriteString(t.Column)
		b.WriteByte('|')
		b.WriteString(t.Name)
		b.WriteByte('|')
		if t.Content != nil {
			b.WriteString(prefixRunes(*t.Content, signaturePrefixRunes))
		}
	}
	return b.String()
}

func prefixRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

// Schedule requests a summary for tasks once no newer snapshot arrives
// within the debounce delay.
func (r *SummaryRequester) Schedule(tasks []domain.ViewTask) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ctx.Err() != nil {
		return
	}
	r.pending = append(r.pending[:0:0], tasks...)
	if r.timer != nil {
		r.timer.Stop()
	}
	r.timer = time.AfterFunc(r.debounce, r.fire)
}

func (r *SummaryRequester) fire() {
	r.mu.Lock()
	tasks := r.pending
	r.pending = nil
	r.timer = nil
	r.mu.Unlock()

	resp, err := r.Request(r.ctx, tasks)
	if err != nil || r.onResult == nil {
		return
	}
	r.onResult(resp)
}

// Request returns a summary for tasks, from cache when the snapshot is
// unchanged and fresh. Generation failures yield the local fallback text.
// The only error is cancellation of ctx or of the requester.
func (r *SummaryRequester) Request(ctx context.Context, tasks []domain.ViewTask) (domain.SummaryResponse, error) {
	sig := Signature(tasks)
	if resp, ok := r.cached(sig); ok {
		return resp, nil
	}

	counts := domain.CountTasks(tasks)
	req := domain.SummaryRequest{
		TaskCounts: domain.NewSummaryCounts(counts),
		Tasks:      sampleTasks(tasks),
	}

	var (
		resp domain.SummaryResponse
		err  = errNoSummaryClient
	)
	if r.client != nil {
		resp, err = r.client.GenerateSummary(ctx, req)
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return domain.SummaryResponse{}, ctxErr
	}
	if r.ctx.Err() != nil {
		return domain.SummaryResponse{}, r.ctx.Err()
	}
	if err != nil || strings.TrimSpace(resp.Summary) == "" {
		if err == nil {
			err = summary.ErrEmptyGeneration
		}
		r.log.WithError(err).Warn("summary request failed, using fallback")
		resp = domain.SummaryResponse{
			Summary:  summary.Fallback(counts, summary.BucketAt(r.now())),
			Fallback: true,
			Error:    err.Error(),
		}
	}

	r.mu.Lock()
	r.cache = &summaryCacheEntry{
		text:        resp.Summary,
		fallback:    resp.Fallback,
		generatedAt: r.now(),
		signature:   sig,
	}
	r.mu.Unlock()
	return resp, nil
}

func (r *SummaryRequester) cached(sig string) (domain.SummaryResponse, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := r.cache
	if e == nil || e.signature != sig || r.now().Sub(e.generatedAt) >= summaryFreshness {
		return domain.SummaryResponse{}, false
	}
	return domain.SummaryResponse{Summary: e.text, Fallback: e.fallback}, true
}

// Close stops the pending timer and cancels any request in flight.
func (r *SummaryRequester) Close() {
	r.mu.Lock()
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	r.mu.Unlock()
	r.cancel()
}

// sampleTasks keeps the first tasks of each column with shortened content.
func sampleTasks(tasks []domain.ViewTask) []domain.SummaryTask {
	if len(tasks) == 0 {
		return nil
	}
	perColumn := make(map[string]int, 3)
	out := make([]domain.SummaryTask, 0, min(len(tasks), samplePerColumn*3))
	for _, t := range tasks {
		if perColumn[t.Column] >= samplePerColumn {
			continue
		}
		perColumn[t.Column]++
		st := domain.SummaryTask{ID: t.ID, Name: prefixRunes(t.Name, sampleContentRunes), Column: t.Column}
		if t.Content != nil {
			content := prefixRunes(*t.Content, sampleContentRunes)
			st.Content = &content
		}
		out = append(out, st)
	}
	return out
}
