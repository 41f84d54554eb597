package testutil

import (
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFHIRServer_CapturesUploads(t *testing.T) {
	s := NewFHIRServer(t)

	resp, err := http.Post(s.URL+ConsentPath, "application/fhir+json", strings.NewReader("b"))
	require.NoError(t, err)
	resp.Body.Close()
	resp, err = http.Post(s.URL+ConsentPath, "application/fhir+json", strings.NewReader("a"))
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, []string{"a", "b"}, s.Bodies(ConsentPath))
	assert.Equal(t, "application/fhir+json", s.Requests(ConsentPath)[0].ContentType)
	assert.Empty(t, s.Requests(RecordPath))
}

func TestFHIRServer_Status(t *testing.T) {
	s := NewFHIRServer(t)
	s.SetStatus(http.StatusBadRequest)

	resp, err := http.Post(s.URL+RecordPath, "application/fhir+json", strings.NewReader("{}"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.False(t, strings.HasPrefix(s.HostPort(), "http"))
}

func TestRegistryDocument_Shape(t *testing.T) {
	doc := string(RegistryDocument("p1"))
	assert.Contains(t, doc, `"resourceType":"Patient"`)
	assert.Contains(t, doc, `"value":"p1"`)
}
