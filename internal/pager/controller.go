// Package pager implements the incremental pagination/merge controller. It
// drives successive bounded fetches against a paged alert source, merges
// pages into a growing accumulated set, and exposes filtering over that set
// without re-fetching.
package pager

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/Newcityvip/bdt-fraud-radar/internal/models"
)

// State is the controller's lifecycle state.
type State int

const (
	StateIdle State = iota
	StateFetching
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFetching:
		return "fetching"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ErrFetchInFlight is returned when a fetch is requested while one is
// already outstanding. The controller never runs parallel fetches.
var ErrFetchInFlight = errors.New("a page fetch is already in flight")

// Fetcher is the single capability the controller needs from the transport.
// Implementations must bound the fetch with a timeout; a timed-out fetch
// returns an error distinguishable from an upstream-reported failure.
type Fetcher interface {
	FetchPage(ctx context.Context, params models.QueryParams) (*models.PageResponse, error)
}

// Filter is a purely cosmetic view filter over the accumulated rows.
// Applying one never triggers a fetch and never resets the offset.
type Filter struct {
	UsernameSearch string
	Level          string
}

// Controller owns the accumulated rows, the next offset and the reported
// total. Pages are requested and merged strictly in increasing offset order;
// a merge is atomic with respect to readers of the accumulated set.
type Controller struct {
	fetcher Fetcher

	state   State
	rows    []models.RiskAssessment
	offset  int
	total   int
	params  models.QueryParams
	lastErr string
}

// NewController creates a controller over the given fetcher.
func NewController(fetcher Fetcher) *Controller {
	return &Controller{fetcher: fetcher}
}

// StartFresh clears the accumulated state and issues the first bounded fetch
// with the given parameters. Changing upstream-affecting parameters always
// goes through here; anything else invalidates the offset.
func (c *Controller) StartFresh(ctx context.Context, params models.QueryParams) error {
	if c.state == StateFetching {
		return ErrFetchInFlight
	}

	c.rows = nil
	c.offset = 0
	c.total = 0
	c.lastErr = ""
	c.params = params.Normalized()

	return c.fetchNext(ctx)
}

// LoadMore issues the next page with the current offset and the parameter
// set fixed by StartFresh. It is a no-op when a fetch is outstanding or the
// source is exhausted. It may be called again after a failure to retry the
// lost page.
func (c *Controller) LoadMore(ctx context.Context) error {
	if c.state == StateFetching {
		return nil
	}
	if c.Exhausted() {
		return nil
	}
	return c.fetchNext(ctx)
}

func (c *Controller) fetchNext(ctx context.Context) error {
	c.state = StateFetching

	params := c.params
	params.Offset = c.offset

	resp, err := c.fetcher.FetchPage(ctx, params)
	if err != nil {
		// Transport failure or timeout: keep what was already merged,
		// only the failing page is lost.
		c.state = StateFailed
		c.lastErr = err.Error()
		log.Warn().Err(err).Int("offset", params.Offset).Msg("Page fetch failed")
		return err
	}

	if !resp.OK {
		c.state = StateFailed
		c.lastErr = resp.Error
		if c.lastErr == "" {
			c.lastErr = "upstream reported failure without a message"
		}
		log.Warn().Str("error", c.lastErr).Int("offset", params.Offset).Msg("Upstream rejected page request")
		return errors.New(c.lastErr)
	}

	// Merge is the only mutation of the accumulated set. The source never
	// re-emits a row already returned for the same offset window, so no
	// de-duplication is performed; upstream violations propagate.
	c.rows = append(c.rows, resp.Rows...)
	c.offset += len(resp.Rows)
	c.total = resp.TotalMatches
	c.state = StateIdle
	c.lastErr = ""

	log.Debug().
		Int("page_rows", len(resp.Rows)).
		Int("accumulated", len(c.rows)).
		Int("total_matches", c.total).
		Msg("Page merged")

	return nil
}

// LoadAll drives LoadMore until the source is exhausted or a page fails.
func (c *Controller) LoadAll(ctx context.Context) error {
	for !c.Exhausted() {
		before := c.offset
		if err := c.LoadMore(ctx); err != nil {
			return err
		}
		// A source that keeps answering with empty pages below its own
		// reported total would loop forever; treat no progress as done.
		if c.offset == before {
			return nil
		}
	}
	return nil
}

// Exhausted reports whether every row the source claims to have is merged.
func (c *Controller) Exhausted() bool {
	return c.total > 0 && c.offset >= c.total
}

// Rows returns a snapshot copy of the accumulated rows. A snapshot never
// observes a partially merged page.
func (c *Controller) Rows() []models.RiskAssessment {
	out := make([]models.RiskAssessment, len(c.rows))
	copy(out, c.rows)
	return out
}

// FilteredView applies a cosmetic filter over the accumulated rows.
func (c *Controller) FilteredView(filter Filter) []models.RiskAssessment {
	search := strings.ToLower(strings.TrimSpace(filter.UsernameSearch))
	level := strings.TrimSpace(filter.Level)

	out := make([]models.RiskAssessment, 0, len(c.rows))
	for _, row := range c.rows {
		if search != "" && !strings.Contains(strings.ToLower(row.Username), search) {
			continue
		}
		if level != "" && row.Level != level {
			continue
		}
		out = append(out, row)
	}
	return out
}

// State returns the controller state.
func (c *Controller) State() State {
	return c.state
}

// Offset returns the next offset to request.
func (c *Controller) Offset() int {
	return c.offset
}

// Total returns the server-reported total for the current parameter set.
func (c *Controller) Total() int {
	return c.total
}

// LastError returns the captured message of the most recent failure.
func (c *Controller) LastError() string {
	return c.lastErr
}

// Params returns the parameter set fixed by the initiating StartFresh call.
func (c *Controller) Params() models.QueryParams {
	return c.params
}
