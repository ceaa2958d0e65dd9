package slack

import (
	"context"
	"log/slog"
)

// PageFunc fetches one page starting at cursor and returns the cursor of
// the next page, or "" when the listing is exhausted. Results accumulate
// in state captured by the closure.
type PageFunc func(ctx context.Context, cursor string) (next string, err error)

// PageResult describes how a paginated drain ended.
type PageResult struct {
	Pages      int    // pages fetched
	NextCursor string // resume point; "" when the listing completed
	Partial    bool   // true when the page cap stopped the drain early
}

// Pager follows cursors through a paginated listing, routing every page
// fetch through the rate limiter. A hard page cap guards against runaway
// pagination: on hitting it the drain stops and reports a partial result
// instead of looping forever. Each invocation fetches from the start
// unless given an explicit resume cursor.
type Pager struct {
	limiter  *Limiter
	maxPages int
	log      *slog.Logger
}

// NewPager creates a Pager with the given page cap (<=0 means the
// default of 1000).
func NewPager(limiter *Limiter, maxPages int, log *slog.Logger) *Pager {
	if maxPages <= 0 {
		maxPages = 1000
	}
	if log == nil {
		log = slog.Default()
	}
	return &Pager{limiter: limiter, maxPages: maxPages, log: log}
}

// Drain follows cursors from start until exhaustion, error, or page cap.
// On error the PageResult still reports the progress made, so a caller
// that persists cursors can resume.
func (p *Pager) Drain(ctx context.Context, tier Tier, start string, fn PageFunc) (PageResult, error) {
	res := PageResult{NextCursor: start}
	for {
		if res.Pages >= p.maxPages {
			res.Partial = true
			p.log.Warn("page cap reached, returning partial result", "pages", res.Pages, "cursor", res.NextCursor)
			return res, nil
		}
		var next string
		err := p.limiter.Do(ctx, tier, func(ctx context.Context) error {
			n, err := fn(ctx, res.NextCursor)
			next = n
			return err
		})
		if err != nil {
			return res, err
		}
		res.Pages++
		res.NextCursor = next
		if next == "" {
			return res, nil
		}
	}
}
