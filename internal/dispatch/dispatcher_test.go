package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/life-research/fts-next-test-patient-uploader/internal/render"
)

// roundTripFunc stubs the transport so no sockets (or socket goroutines) exist.
type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func stubClient(f roundTripFunc) *http.Client {
	return &http.Client{Transport: f}
}

func okResponse(r *http.Request, status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     make(http.Header),
		Request:    r,
	}
}

type failingBody struct{}

func (failingBody) Read([]byte) (int, error) { return 0, errors.New("connection reset") }
func (failingBody) Close() error             { return nil }

func staticSource(id string) ([]byte, error) {
	return []byte(`{"id":"` + id + `"}`), nil
}

func ids(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("p%03d", i)
	}
	return out
}

func TestUpload_CounterMatchesSuccesses(t *testing.T) {
	defer goleak.VerifyNone(t)

	cases := []struct{ n, k int }{{0, 0}, {1, 0}, {1, 1}, {10, 3}, {50, 50}, {200, 137}}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("n=%d,k=%d", tc.n, tc.k), func(t *testing.T) {
			all := ids(tc.n)
			succeed := make(map[string]bool)
			for _, id := range all[:tc.k] {
				succeed[id] = true
			}

			client := stubClient(func(r *http.Request) (*http.Response, error) {
				body, _ := io.ReadAll(r.Body)
				id := strings.TrimSuffix(strings.TrimPrefix(string(body), `{"id":"`), `"}`)
				// jitter to shuffle completion order
				time.Sleep(time.Duration(id[len(id)-1]%3) * time.Millisecond)
				if !succeed[id] {
					if id[len(id)-1]%2 == 0 {
						return nil, errors.New("dial tcp: connection refused")
					}
					resp := okResponse(r, 200, "")
					resp.Body = failingBody{}
					return resp, nil
				}
				return okResponse(r, 200, `{}`), nil
			})

			d := New(client, Options{Domain: "records", Workers: 8})
			res := d.Upload(context.Background(), "http://hds.test/fhir", all, SourceFunc(staticSource))

			assert.Equal(t, tc.n, res.Dispatched)
			assert.Equal(t, int64(tc.k), res.Succeeded)
			assert.Equal(t, tc.n-tc.k, res.Failed())
			assert.Len(t, res.Outcomes, tc.n)
			assert.Len(t, res.Failures(), tc.n-tc.k)
		})
	}
}

func TestUpload_ZeroEntities(t *testing.T) {
	called := false
	client := stubClient(func(r *http.Request) (*http.Response, error) {
		called = true
		return okResponse(r, 200, ""), nil
	})

	res := New(client, Options{}).Upload(context.Background(), "http://x.test", nil, SourceFunc(staticSource))
	assert.Equal(t, int64(0), res.Succeeded)
	assert.Equal(t, 0, res.Dispatched)
	assert.Empty(t, res.Outcomes)
	assert.False(t, called)
}

func TestUpload_RequestShape(t *testing.T) {
	var mu sync.Mutex
	seen := make(map[string]string)

	client := stubClient(func(r *http.Request) (*http.Response, error) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, MediaTypeFHIRJSON, r.Header.Get("Content-Type"))
		assert.Equal(t, "/ttp-fhir/fhir/gics/$addConsent", r.URL.Path)
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		mu.Lock()
		seen[string(body)] = r.URL.String()
		mu.Unlock()
		return okResponse(r, 200, `{"resourceType":"Parameters"}`), nil
	})

	d := New(client, Options{Domain: "consents"})
	res := d.Upload(context.Background(), "http://gics.test/ttp-fhir/fhir/gics/$addConsent",
		[]string{"a", "b"}, SourceFunc(staticSource))

	assert.Equal(t, int64(2), res.Succeeded)
	assert.Contains(t, seen, `{"id":"a"}`)
	assert.Contains(t, seen, `{"id":"b"}`)
}

func TestUpload_PayloadErrorIsPerEntity(t *testing.T) {
	client := stubClient(func(r *http.Request) (*http.Response, error) {
		return okResponse(r, 201, ""), nil
	})
	src := SourceFunc(func(id string) ([]byte, error) {
		if id == "missing" {
			return nil, errors.New("no such record")
		}
		return []byte(id), nil
	})

	res := New(client, Options{}).Upload(context.Background(), "http://x.test", []string{"a", "missing", "b"}, src)
	assert.Equal(t, int64(2), res.Succeeded)

	failures := res.Failures()
	require.Len(t, failures, 1)
	assert.Equal(t, "missing", failures[0].ID)
	assert.Contains(t, failures[0].Err.Error(), "build payload")
	assert.Equal(t, 0, failures[0].StatusCode)
}

func TestUpload_LenientStatusCountsAsSuccess(t *testing.T) {
	client := stubClient(func(r *http.Request) (*http.Response, error) {
		return okResponse(r, 500, `{"resourceType":"OperationOutcome"}`), nil
	})

	res := New(client, Options{}).Upload(context.Background(), "http://x.test", []string{"a"}, SourceFunc(staticSource))
	assert.Equal(t, int64(1), res.Succeeded)
	assert.Equal(t, 500, res.Outcomes[0].StatusCode)
}

func TestUpload_StrictStatusCountsAsFailure(t *testing.T) {
	client := stubClient(func(r *http.Request) (*http.Response, error) {
		if strings.Contains(r.URL.RawQuery, "bad") {
			return okResponse(r, 422, "unprocessable"), nil
		}
		return okResponse(r, 200, ""), nil
	})
	src := SourceFunc(staticSource)

	d := New(client, Options{StrictStatus: true})
	res := d.Upload(context.Background(), "http://x.test/fhir?bad", []string{"a", "b"}, src)
	assert.Equal(t, int64(0), res.Succeeded)
	for _, o := range res.Outcomes {
		assert.True(t, IsStatusError(o.Err))
		assert.Equal(t, 422, o.StatusCode)
	}

	res = d.Upload(context.Background(), "http://x.test/fhir", []string{"a", "b"}, src)
	assert.Equal(t, int64(2), res.Succeeded)
}

func TestUpload_RespectsWorkerBound(t *testing.T) {
	defer goleak.VerifyNone(t)

	var inFlight, peak atomic.Int32
	client := stubClient(func(r *http.Request) (*http.Response, error) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		inFlight.Add(-1)
		return okResponse(r, 200, ""), nil
	})

	res := New(client, Options{Workers: 3}).Upload(context.Background(), "http://x.test", ids(30), SourceFunc(staticSource))
	assert.Equal(t, int64(30), res.Succeeded)
	assert.LessOrEqual(t, peak.Load(), int32(3))
}

func TestUpload_FailureDoesNotBlockSiblings(t *testing.T) {
	client := stubClient(func(r *http.Request) (*http.Response, error) {
		body, _ := io.ReadAll(r.Body)
		if strings.Contains(string(body), "slow-fail") {
			<-r.Context().Done()
			return nil, r.Context().Err()
		}
		return okResponse(r, 200, ""), nil
	})

	d := New(client, Options{Workers: 2, Timeout: 50 * time.Millisecond})
	res := d.Upload(context.Background(), "http://x.test", []string{"slow-fail", "a", "b", "c"}, SourceFunc(staticSource))

	assert.Equal(t, int64(3), res.Succeeded)
	require.Len(t, res.Failures(), 1)
	assert.Equal(t, "slow-fail", res.Failures()[0].ID)
	assert.ErrorIs(t, res.Failures()[0].Err, context.DeadlineExceeded)
}

func TestUpload_CancelledContext(t *testing.T) {
	client := stubClient(func(r *http.Request) (*http.Response, error) {
		if err := r.Context().Err(); err != nil {
			return nil, err
		}
		return okResponse(r, 200, ""), nil
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := New(client, Options{RateLimit: 100}).Upload(ctx, "http://x.test", []string{"a", "b"}, SourceFunc(staticSource))
	assert.Equal(t, int64(0), res.Succeeded)
	assert.Len(t, res.Failures(), 2)
}

func TestUpload_RateLimited(t *testing.T) {
	client := stubClient(func(r *http.Request) (*http.Response, error) {
		return okResponse(r, 200, ""), nil
	})

	start := time.Now()
	// burst 1 at 20/s: the 4 requests after the first wait ~50ms each
	res := New(client, Options{RateLimit: 20, Workers: 5}).Upload(context.Background(), "http://x.test", ids(5), SourceFunc(staticSource))
	assert.Equal(t, int64(5), res.Succeeded)
	assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)
}

func TestTemplateSource(t *testing.T) {
	src := TemplateSource{
		Template: render.NewTemplate("ID=$PATIENT_ID DATE=$AUTHORED"),
		Bind: func(id string) (render.Bindings, error) {
			if id == "ghost" {
				return nil, errors.New("unknown")
			}
			return render.Bindings{render.PlaceholderPatientID: id, render.PlaceholderAuthored: "2021"}, nil
		},
	}

	out, err := src.Payload("a")
	require.NoError(t, err)
	assert.Equal(t, "ID=a DATE=2021", string(out))

	_, err = src.Payload("ghost")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bind ghost")
}

func TestCounter_Concurrent(t *testing.T) {
	var c Counter
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.Inc()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(10000), c.Load())
}
