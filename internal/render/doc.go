// Package render turns resource templates into per-entity payloads.
//
// A template is plain text (usually a FHIR Bundle in JSON) containing literal
// placeholder tokens such as $PATIENT_ID. Rendering replaces every occurrence
// of each bound placeholder in a single pass, so a substituted value can never
// be mistaken for another placeholder. Placeholders without a binding are left
// verbatim; the same template may be reused by record types that bind only a
// subset of the tokens.
//
// Two placeholders are "fresh": $QUESTIONNAIRE_RESPONSE_UUID and
// $RESEARCH_STUDY_UUID receive a newly generated token on every call to
// ConsentBindings. Callers must build bindings per entity and never share them.
package render
