// Package artifact merges generated-file records into the authoritative file
// set of a run.
//
// The set is keyed by filename. A later record for a filename replaces the
// earlier one in full; fields are never merged individually. Records may
// arrive attached to any agent id and the union of all of them is the run's
// file set. Nothing is removed until a new run starts (or the refinement
// controller performs a full restart).
//
// MergeAll is a pure function: it never mutates its inputs, which lets the
// consumer loop fold it over snapshots that have already been published.
package artifact
