// Package testutil provides fake FHIR endpoints for tests.
package testutil

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
)

// Endpoint paths served by FHIRServer.
const (
	RecordPath   = "/fhir"
	ConsentPath  = "/ttp-fhir/fhir/gics/$addConsent"
	RegistryPath = "/ttp-fhir/fhir/gics/$allConsentsForDomain"
)

// Request is a captured POST.
type Request struct {
	Path        string
	ContentType string
	Body        string
}

// FHIRServer fakes both the record server and the consent registry.
//
// Every request is captured. Registry queries are answered with a document
// listing the ids passed to SetRegistry; everything else gets Status
// (default 200) and a small OperationOutcome.
type FHIRServer struct {
	*httptest.Server

	mu       sync.Mutex
	requests []Request
	status   int
	registry []byte
}

// NewFHIRServer starts a server that is closed when t ends.
func NewFHIRServer(t *testing.T) *FHIRServer {
	t.Helper()
	s := &FHIRServer{status: http.StatusOK, registry: RegistryDocument()}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.Close)
	return s
}

func (s *FHIRServer) handle(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	s.mu.Lock()
	s.requests = append(s.requests, Request{
		Path:        r.URL.Path,
		ContentType: r.Header.Get("Content-Type"),
		Body:        string(body),
	})
	status, registry := s.status, s.registry
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/fhir+json")
	if r.URL.Path == RegistryPath {
		_, _ = w.Write(registry)
		return
	}
	w.WriteHeader(status)
	_, _ = io.WriteString(w, `{"resourceType":"OperationOutcome"}`)
}

// SetStatus changes the status returned for uploads.
func (s *FHIRServer) SetStatus(code int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = code
}

// SetRegistry makes registry queries report one consent per id.
func (s *FHIRServer) SetRegistry(ids ...string) {
	s.SetRegistryDocument(RegistryDocument(ids...))
}

// SetRegistryDocument makes registry queries return doc verbatim.
func (s *FHIRServer) SetRegistryDocument(doc []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.registry = doc
}

// Requests returns captured requests to path, in arrival order.
func (s *FHIRServer) Requests(path string) []Request {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Request
	for _, r := range s.requests {
		if r.Path == path {
			out = append(out, r)
		}
	}
	return out
}

// Bodies returns the sorted bodies posted to path.
func (s *FHIRServer) Bodies(path string) []string {
	reqs := s.Requests(path)
	out := make([]string, len(reqs))
	for i, r := range reqs {
		out[i] = r.Body
	}
	sort.Strings(out)
	return out
}

// RegistryDocument builds a domain query answer with one consent Bundle per
// id. Each consent also carries a Consent resource that must be skipped.
func RegistryDocument(ids ...string) []byte {
	entries := make([]any, 0, len(ids))
	for _, id := range ids {
		entries = append(entries, map[string]any{
			"resource": map[string]any{
				"resourceType": "Bundle",
				"type":         "collection",
				"entry": []any{
					map[string]any{"resource": map[string]any{
						"resourceType": "Consent",
						"status":       "active",
					}},
					map[string]any{"resource": map[string]any{
						"resourceType": "Patient",
						"identifier": []any{map[string]any{
							"system": "https://ths-greifswald.de/fhir/gics/identifiers/Patienten-ID",
							"value":  id,
						}},
					}},
				},
			},
		})
	}

	doc, err := json.Marshal(map[string]any{
		"resourceType": "Bundle",
		"type":         "searchset",
		"entry":        entries,
	})
	if err != nil {
		panic(err)
	}
	return doc
}

// HostPort strips the scheme from the server URL.
func (s *FHIRServer) HostPort() string {
	return strings.TrimPrefix(s.URL, "http://")
}
