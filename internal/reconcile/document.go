package reconcile

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/text/unicode/norm"
)

// SubjectResourceType is the resource kind that identifies an entity.
const SubjectResourceType = "Patient"

const bundleResourceType = "Bundle"

// FormatError reports a registry response that does not have the expected
// structure.
type FormatError struct {
	Path string
	Err  error
}

func (e *FormatError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("malformed registry response: %v", e.Err)
	}
	return fmt.Sprintf("malformed registry response at %s: %v", e.Path, e.Err)
}

func (e *FormatError) Unwrap() error {
	return e.Err
}

// IsFormatError reports whether err is a FormatError.
func IsFormatError(err error) bool {
	var fe *FormatError
	return errors.As(err, &fe)
}

type queryParameter struct {
	Name        string `json:"name"`
	ValueString string `json:"valueString"`
}

type queryParameters struct {
	ResourceType string           `json:"resourceType"`
	Parameter    []queryParameter `json:"parameter"`
}

// QueryBody returns the Parameters resource that scopes a registry query to
// domain.
func QueryBody(domain string) ([]byte, error) {
	return json.Marshal(queryParameters{
		ResourceType: "Parameters",
		Parameter:    []queryParameter{{Name: "domain", ValueString: domain}},
	})
}

// searchBundle is the outer level: one entry per consent.
type searchBundle struct {
	ResourceType string `json:"resourceType"`
	Entry        []struct {
		Resource json.RawMessage `json:"resource"`
	} `json:"entry"`
}

// consentBundle is the inner level: the resources of one consent.
type consentBundle struct {
	ResourceType string `json:"resourceType"`
	Entry        []struct {
		Resource json.RawMessage `json:"resource"`
	} `json:"entry"`
}

type resourceHeader struct {
	ResourceType string `json:"resourceType"`
}

type subjectResource struct {
	Identifier []struct {
		Value json.RawMessage `json:"value"`
	} `json:"identifier"`
}

// ExtractIdentifiers returns the subject identifiers of every consent in a
// registry response, in document order. Identifiers are NFC-normalized.
// Outer entries that are not Bundles are skipped without being decoded.
func ExtractIdentifiers(data []byte) ([]string, error) {
	var outer searchBundle
	if err := json.Unmarshal(data, &outer); err != nil {
		return nil, &FormatError{Err: err}
	}
	if outer.ResourceType != bundleResourceType {
		return nil, &FormatError{Path: "resourceType", Err: fmt.Errorf("want %q, got %q", bundleResourceType, outer.ResourceType)}
	}

	var ids []string
	for i, oe := range outer.Entry {
		if len(oe.Resource) == 0 {
			continue
		}
		var kind resourceHeader
		if err := json.Unmarshal(oe.Resource, &kind); err != nil {
			return nil, &FormatError{Path: fmt.Sprintf("entry[%d].resource", i), Err: err}
		}
		if kind.ResourceType != bundleResourceType {
			continue
		}
		var inner consentBundle
		if err := json.Unmarshal(oe.Resource, &inner); err != nil {
			return nil, &FormatError{Path: fmt.Sprintf("entry[%d].resource", i), Err: err}
		}

		for j, ie := range inner.Entry {
			path := fmt.Sprintf("entry[%d].resource.entry[%d].resource", i, j)
			if len(ie.Resource) == 0 {
				continue
			}

			var hdr resourceHeader
			if err := json.Unmarshal(ie.Resource, &hdr); err != nil {
				return nil, &FormatError{Path: path, Err: err}
			}
			if hdr.ResourceType != SubjectResourceType {
				continue
			}

			id, err := subjectIdentifier(ie.Resource)
			if err != nil {
				return nil, &FormatError{Path: path + ".identifier[0].value", Err: err}
			}
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func subjectIdentifier(raw json.RawMessage) (string, error) {
	var subj subjectResource
	if err := json.Unmarshal(raw, &subj); err != nil {
		return "", err
	}
	if len(subj.Identifier) == 0 {
		return "", errors.New("no identifier")
	}

	raw = bytes.TrimSpace(subj.Identifier[0].Value)
	if len(raw) == 0 || raw[0] != '"' {
		return "", fmt.Errorf("identifier value is not a string: %q", string(raw))
	}
	var value string
	if err := json.Unmarshal(raw, &value); err != nil {
		return "", err
	}
	return norm.NFC.String(value), nil
}
