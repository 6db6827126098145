package summary

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"kanban-api/domain"
)

// ErrInvalidCounts is reported for requests without three usable counts.
var ErrInvalidCounts = errors.New("invalid task counts provided")

const fallbackError = "AI generation failed, using fallback message"

// Service answers summary requests. Generation failures never surface as
// errors; they produce the time-of-day fallback instead.
type Service struct {
	gen     Generator
	log     *log.Logger
	timeout time.Duration
	now     func() time.Time
}

// NewService creates a Service. A nil generator always yields the fallback.
func NewService(gen Generator, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Service{gen: gen, log: logger, timeout: 15 * time.Second, now: time.Now}
}

// Validate checks that all three counts are present and non-negative.
func Validate(req domain.SummaryRequest) error {
	if err := domain.Validate(req); err != nil {
		return errors.Join(ErrInvalidCounts, err)
	}
	return nil
}

// Summarize validates req and returns a summary. The only error it returns
// is a validation failure.
func (s *Service) Summarize(ctx context.Context, req domain.SummaryRequest) (domain.SummaryResponse, error) {
	if err := Validate(req); err != nil {
		return domain.SummaryResponse{}, err
	}
	counts := req.TaskCounts.Counts()
	tod := BucketAt(s.now())

	if s.gen == nil {
		return domain.SummaryResponse{Summary: Fallback(counts, tod), Fallback: true, Error: "AI generation is not configured"}, nil
	}

	gctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	text, err := s.gen.Generate(gctx, systemPrompt, BuildPrompt(counts, tod, req.Tasks))
	if err != nil {
		s.log.WithError(err).WithField("timeOfDay", tod).Warn("summary generation failed")
		return domain.SummaryResponse{Summary: Fallback(counts, tod), Fallback: true, Error: fallbackError}, nil
	}
	return domain.SummaryResponse{Summary: text}, nil
}
