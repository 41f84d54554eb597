// Package seed runs a complete seeding pass: select ids, upload records and
// consents concurrently, then reconcile the consents against the registry.
package seed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/life-research/fts-next-test-patient-uploader/internal/config"
	"github.com/life-research/fts-next-test-patient-uploader/internal/dispatch"
	"github.com/life-research/fts-next-test-patient-uploader/internal/ledger"
	"github.com/life-research/fts-next-test-patient-uploader/internal/reconcile"
	"github.com/life-research/fts-next-test-patient-uploader/internal/render"
	"github.com/life-research/fts-next-test-patient-uploader/internal/selection"
)

// Phase names, also used as dispatcher domains and ledger phases.
const (
	PhaseRecords  = "records"
	PhaseConsents = "consents"
)

// Resolver finds the base URL of a compose service.
type Resolver interface {
	BaseURL(ctx context.Context, service string, port int) (string, error)
}

// Seeder wires the components of a run. Only Config is required.
type Seeder struct {
	Config   *config.Config
	Client   *http.Client
	Resolver Resolver
	Tokens   render.TokenGenerator
	Ledger   *ledger.Ledger
	Logger   *slog.Logger
	Now      func() time.Time
}

// Plan is everything loaded at startup. Building it is the only step that
// can abort a run before any upload.
type Plan struct {
	Template   *render.Template
	Index      selection.AuthoredIndex
	Records    selection.RecordStore
	RecordURL  string
	ConsentURL string
	Selected   []string

	// MissingRecords are selected ids without a {id}.json in the records
	// directory. They are still dispatched and fail individually.
	MissingRecords []string
}

// Summary is the outcome of a run. Phase fields are nil when the phase did
// not run.
type Summary struct {
	RunID    string
	Selected int
	Records  *dispatch.Result
	Consents *dispatch.Result
	Report   *reconcile.Report
}

// NewHTTPClient returns the client shared by every request of a run.
func NewHTTPClient(workers int) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if workers > transport.MaxIdleConnsPerHost {
		transport.MaxIdleConnsPerHost = workers
	}
	return &http.Client{Transport: transport}
}

func (s *Seeder) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

func (s *Seeder) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Seeder) client() *http.Client {
	if s.Client == nil {
		s.Client = NewHTTPClient(s.Config.Upload.Workers)
	}
	return s.Client
}

func (s *Seeder) tokens() render.TokenGenerator {
	if s.Tokens != nil {
		return s.Tokens
	}
	return render.UUIDGenerator{}
}

// Prepare loads the template and authored dates, resolves both services and
// computes the selection.
func (s *Seeder) Prepare(ctx context.Context) (*Plan, error) {
	cfg := s.Config

	tmpl, err := render.LoadTemplate(cfg.ConsentTemplate)
	if err != nil {
		return nil, err
	}

	idx, err := selection.LoadAuthoredIndex(cfg.AuthoredDates)
	if err != nil {
		return nil, err
	}

	recordBase, err := s.baseURL(ctx, cfg.Records)
	if err != nil {
		return nil, err
	}
	consentBase, err := s.baseURL(ctx, cfg.Consents)
	if err != nil {
		return nil, err
	}

	records := selection.RecordStore{Dir: cfg.RecordsDir}
	available, err := records.IDs()
	if err != nil {
		return nil, err
	}

	selected := selection.SelectFromIndex(idx, selection.Options{IDs: cfg.IDs, Limit: cfg.Limit})
	missing := selection.Unavailable(selected, available)
	if len(missing) > 0 {
		s.logger().Warn("selected ids have no record file", "dir", cfg.RecordsDir, "count", len(missing), "ids", missing)
	}

	return &Plan{
		Template:       tmpl,
		Index:          idx,
		Records:        records,
		RecordURL:      config.Endpoint(recordBase, config.RecordUploadPath),
		ConsentURL:     consentBase,
		Selected:       selected,
		MissingRecords: missing,
	}, nil
}

func (s *Seeder) baseURL(ctx context.Context, svc config.ServiceConfig) (string, error) {
	if svc.BaseURL != "" {
		return svc.BaseURL, nil
	}
	if s.Resolver == nil {
		return "", fmt.Errorf("no base URL for %s and no resolver", svc.Service)
	}
	url, err := s.Resolver.BaseURL(ctx, svc.Service, svc.Port)
	if err != nil {
		return "", err
	}
	s.logger().Debug("resolved service", "service", svc.Service, "url", url)
	return url, nil
}

func (s *Seeder) dispatcher(domain string) *dispatch.Dispatcher {
	up := s.Config.Upload
	return dispatch.New(s.client(), dispatch.Options{
		Domain:       domain,
		Workers:      up.Workers,
		RateLimit:    up.RateLimit,
		Timeout:      s.Config.GetTimeout(),
		StrictStatus: up.StrictStatus,
		Logger:       s.logger(),
	})
}

// ConsentSource renders one consent per id with fresh tokens. Ids missing
// from idx fail with a LookupError.
func ConsentSource(tmpl *render.Template, idx selection.AuthoredIndex, gen render.TokenGenerator) dispatch.Source {
	return dispatch.TemplateSource{
		Template: tmpl,
		Bind: func(id string) (render.Bindings, error) {
			authored, err := idx.Lookup(id)
			if err != nil {
				return nil, err
			}
			return render.ConsentBindings(gen, id, authored), nil
		},
	}
}

// Run executes a full pass. Startup failures return a nil Summary. Phase
// failures (reconciliation, ledger writes) are joined into the error while
// the Summary still carries every phase that completed.
func (s *Seeder) Run(ctx context.Context) (*Summary, error) {
	plan, err := s.Prepare(ctx)
	if err != nil {
		return nil, err
	}
	return s.Execute(ctx, plan)
}

// Execute runs the upload and reconciliation phases of plan.
func (s *Seeder) Execute(ctx context.Context, plan *Plan) (*Summary, error) {
	log := s.logger()
	sum := &Summary{Selected: len(plan.Selected)}
	// both phases share the client; create it before they start
	s.client()

	if s.Ledger != nil {
		sum.RunID = ledger.NewRunID()
		if err := s.Ledger.BeginRun(ctx, sum.RunID, s.Config.Domain, len(plan.Selected), s.now()); err != nil {
			return nil, err
		}
	}
	log.Info("run starting", "run", sum.RunID, "selected", len(plan.Selected))

	var (
		wg                    sync.WaitGroup
		recordErr, consentErr error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		sum.Records = s.dispatcher(PhaseRecords).Upload(ctx, plan.RecordURL, plan.Selected, plan.Records)
		recordErr = s.recordUploads(ctx, sum.RunID, sum.Records)
	}()
	go func() {
		defer wg.Done()
		target := config.Endpoint(plan.ConsentURL, config.ConsentAddPath)
		src := ConsentSource(plan.Template, plan.Index, s.tokens())
		sum.Consents = s.dispatcher(PhaseConsents).Upload(ctx, target, plan.Selected, src)
		consentErr = s.recordUploads(ctx, sum.RunID, sum.Consents)

		report, err := s.verify(ctx, plan.ConsentURL, plan.Selected, sum.RunID)
		sum.Report = report
		consentErr = errors.Join(consentErr, err)
	}()
	wg.Wait()

	err := errors.Join(recordErr, consentErr)
	s.finish(ctx, sum, err)
	return sum, err
}

// Verify reconciles the selection against the registry without uploading.
func (s *Seeder) Verify(ctx context.Context) (*Summary, error) {
	idx, err := selection.LoadAuthoredIndex(s.Config.AuthoredDates)
	if err != nil {
		return nil, err
	}
	consentBase, err := s.baseURL(ctx, s.Config.Consents)
	if err != nil {
		return nil, err
	}
	selected := selection.SelectFromIndex(idx, selection.Options{IDs: s.Config.IDs, Limit: s.Config.Limit})

	sum := &Summary{Selected: len(selected)}
	if s.Ledger != nil {
		sum.RunID = ledger.NewRunID()
		if err := s.Ledger.BeginRun(ctx, sum.RunID, s.Config.Domain, len(selected), s.now()); err != nil {
			return nil, err
		}
	}

	sum.Report, err = s.verify(ctx, consentBase, selected, sum.RunID)
	s.finish(ctx, sum, err)
	return sum, err
}

func (s *Seeder) verify(ctx context.Context, consentBase string, expected []string, runID string) (*reconcile.Report, error) {
	v := reconcile.NewVerifier(s.client(), s.Config.GetTimeout(), s.logger())
	report, err := v.Verify(ctx, config.Endpoint(consentBase, config.ConsentQueryPath), s.Config.Domain, expected)
	if err != nil {
		return nil, fmt.Errorf("reconciliation: %w", err)
	}
	if s.Ledger != nil {
		if err := s.Ledger.RecordReport(ctx, runID, report); err != nil {
			return report, err
		}
	}
	return report, nil
}

func (s *Seeder) recordUploads(ctx context.Context, runID string, res *dispatch.Result) error {
	if s.Ledger == nil {
		return nil
	}
	return s.Ledger.RecordUploads(ctx, runID, res)
}

func (s *Seeder) finish(ctx context.Context, sum *Summary, runErr error) {
	status := ledger.StatusComplete
	switch {
	case runErr != nil:
		status = ledger.StatusFailed
	case sum.Report != nil && !sum.Report.Complete():
		status = ledger.StatusIncomplete
	}
	s.logger().Info("run finished", "run", sum.RunID, "status", status)

	if s.Ledger == nil {
		return
	}
	if err := s.Ledger.FinishRun(ctx, sum.RunID, status, s.now()); err != nil {
		s.logger().Error("failed to finish run in ledger", "run", sum.RunID, "error", err)
	}
}
