package reconcile

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

const mediaTypeFHIRJSON = "application/fhir+json"

// Verifier queries the registry and reconciles its answer.
type Verifier struct {
	client  *http.Client
	timeout time.Duration
	logger  *slog.Logger
}

// NewVerifier creates a Verifier. A nil client means http.DefaultClient and a
// nil logger means slog.Default().
func NewVerifier(client *http.Client, timeout time.Duration, logger *slog.Logger) *Verifier {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Verifier{client: client, timeout: timeout, logger: logger}
}

// Fetch posts the domain query to endpoint and returns the raw response.
func (v *Verifier) Fetch(ctx context.Context, endpoint, domain string) ([]byte, error) {
	body, err := QueryBody(domain)
	if err != nil {
		return nil, fmt.Errorf("build registry query: %w", err)
	}

	if v.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, v.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build registry request: %w", err)
	}
	req.Header.Set("Content-Type", mediaTypeFHIRJSON)
	req.Header.Set("Accept", mediaTypeFHIRJSON)

	resp, err := v.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("query registry: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read registry response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("query registry: unexpected status %d", resp.StatusCode)
	}
	return data, nil
}

// Verify reconciles expected against the registry's consents for domain.
//
// Transport failures and malformed documents return an error. A report with
// missing or unexpected ids is returned without error; the caller decides
// whether an incomplete report fails the run.
func (v *Verifier) Verify(ctx context.Context, endpoint, domain string, expected []string) (*Report, error) {
	data, err := v.Fetch(ctx, endpoint, domain)
	if err != nil {
		return nil, err
	}

	found, err := ExtractIdentifiers(data)
	if err != nil {
		return nil, err
	}

	report := Diff(expected, found)
	report.Domain = domain
	v.log(report)
	return report, nil
}

func (v *Verifier) log(r *Report) {
	for _, id := range r.Unexpected {
		v.logger.Warn("unexpected consent in registry", "domain", r.Domain, "entity", id)
	}
	for _, id := range r.Missing {
		v.logger.Error("consent missing from registry", "domain", r.Domain, "entity", id)
	}
	v.logger.Info("reconciliation finished",
		"domain", r.Domain,
		"confirmed", len(r.Confirmed),
		"missing", len(r.Missing),
		"unexpected", len(r.Unexpected))
}
