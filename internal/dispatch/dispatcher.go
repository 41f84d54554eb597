package dispatch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// MediaTypeFHIRJSON is the content type of every upload.
const MediaTypeFHIRJSON = "application/fhir+json"

// DefaultWorkers bounds in-flight requests when Options.Workers is unset.
const DefaultWorkers = 16

// Options configures a Dispatcher.
type Options struct {
	// Domain labels log lines and results ("records", "consents").
	Domain string

	// Workers caps concurrent requests. Zero means DefaultWorkers.
	Workers int

	// RateLimit caps requests per second across all workers. Zero disables it.
	RateLimit float64

	// Timeout bounds each request including the body read. Zero disables it.
	Timeout time.Duration

	// StrictStatus counts non-2xx responses as failures.
	StrictStatus bool

	Logger *slog.Logger
}

// Dispatcher submits per-entity uploads. The client is shared read-only
// across all units of work; a Dispatcher may serve several Upload calls.
type Dispatcher struct {
	client  *http.Client
	opts    Options
	limiter *rate.Limiter
	logger  *slog.Logger
}

// New creates a Dispatcher around client (nil means http.DefaultClient).
func New(client *http.Client, opts Options) *Dispatcher {
	if client == nil {
		client = http.DefaultClient
	}
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	d := &Dispatcher{client: client, opts: opts, logger: logger}
	if opts.RateLimit > 0 {
		// burst 1: requests are spaced 1/RateLimit apart
		d.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), 1)
	}
	return d
}

// Outcome is the result of one entity's upload.
type Outcome struct {
	ID         string
	OK         bool
	StatusCode int // 0 when no response arrived
	Err        error
}

// Result summarizes one Upload call.
type Result struct {
	Domain     string
	Target     string
	Dispatched int
	Succeeded  int64
	Outcomes   []Outcome // sorted by ID
	Duration   time.Duration
}

// Failures returns the unsuccessful outcomes.
func (r *Result) Failures() []Outcome {
	var out []Outcome
	for _, o := range r.Outcomes {
		if !o.OK {
			out = append(out, o)
		}
	}
	return out
}

// Failed is Dispatched minus Succeeded.
func (r *Result) Failed() int {
	return r.Dispatched - int(r.Succeeded)
}

// StatusError is a non-2xx answer under StrictStatus.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Body)
}

// IsStatusError reports whether err is a StatusError.
func IsStatusError(err error) bool {
	var se *StatusError
	return errors.As(err, &se)
}

// Upload posts one payload per id to target and waits for all of them.
//
// ids may contain duplicates; each occurrence is its own unit of work.
// Upload never fails as a whole: per-entity errors are in Result.Outcomes.
// Cancelling ctx makes the remaining units fail fast with ctx's error.
func (d *Dispatcher) Upload(ctx context.Context, target string, ids []string, src Source) *Result {
	start := time.Now()
	var (
		counter  Counter
		mu       sync.Mutex
		outcomes = make([]Outcome, 0, len(ids))
	)

	d.logger.Info("upload starting",
		"domain", d.opts.Domain, "target", target, "entities", len(ids), "workers", d.opts.Workers)

	var g errgroup.Group
	g.SetLimit(d.opts.Workers)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			o := d.uploadOne(ctx, target, id, src)
			if o.OK {
				counter.Inc()
			} else {
				d.logger.Error("upload failed", "domain", d.opts.Domain, "entity", id, "error", o.Err)
			}
			mu.Lock()
			outcomes = append(outcomes, o)
			mu.Unlock()
			return nil
		})
	}
	// every task returns nil; failures live in outcomes
	_ = g.Wait()

	sort.SliceStable(outcomes, func(i, j int) bool { return outcomes[i].ID < outcomes[j].ID })

	res := &Result{
		Domain:     d.opts.Domain,
		Target:     target,
		Dispatched: len(ids),
		Succeeded:  counter.Load(),
		Outcomes:   outcomes,
		Duration:   time.Since(start),
	}
	d.logger.Info("upload finished",
		"domain", d.opts.Domain, "succeeded", res.Succeeded, "failed", res.Failed(), "duration", res.Duration)
	return res
}

func (d *Dispatcher) uploadOne(ctx context.Context, target, id string, src Source) Outcome {
	o := Outcome{ID: id}

	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			o.Err = fmt.Errorf("rate limit: %w", err)
			return o
		}
	}

	payload, err := src.Payload(id)
	if err != nil {
		o.Err = fmt.Errorf("build payload: %w", err)
		return o
	}
	d.logger.Debug("uploading", "domain", d.opts.Domain, "entity", id, "bytes", len(payload))

	if d.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.opts.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(payload))
	if err != nil {
		o.Err = fmt.Errorf("build request: %w", err)
		return o
	}
	req.Header.Set("Content-Type", MediaTypeFHIRJSON)

	resp, err := d.client.Do(req)
	if err != nil {
		o.Err = fmt.Errorf("send: %w", err)
		return o
	}
	defer resp.Body.Close()
	o.StatusCode = resp.StatusCode

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		o.Err = fmt.Errorf("read response body: %w", err)
		return o
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if d.opts.StrictStatus {
			o.Err = &StatusError{StatusCode: resp.StatusCode, Body: truncate(string(body), 256)}
			return o
		}
		d.logger.Warn("non-2xx response counted as uploaded",
			"domain", d.opts.Domain, "entity", id, "status", resp.StatusCode)
	}

	o.OK = true
	return o
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
