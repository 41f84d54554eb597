// Package reconcile checks that the consent registry holds every expected
// entity.
//
// The registry answers a domain query with a Bundle of consent Bundles. Each
// inner Bundle carries the resources of one consent; the Patient among them
// names the entity in identifier[0].value. The package walks exactly these
// two levels, collects the identifiers, and partitions them against the
// expected ids:
//
//	Confirmed  = expected ∩ found
//	Unexpected = found ∖ expected
//	Missing    = expected ∖ found
//
// A malformed document is a FormatError and fails the whole verification.
// Missing or unexpected ids are not errors; they are reported and logged.
package reconcile
