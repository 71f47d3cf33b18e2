// Package schema provides the record model shared by every nootle component.
//
// Overview
//
// All user data lives in named collections (categories, todos, notebooks,
// notes, drawings, events, timerSessions, profiles, activeTimers). Every
// record is a JSON object carrying three invariant fields:
//
//	id       client-generated, stable for the record's lifetime
//	created  ISO-8601, set once
//	updated  ISO-8601, rewritten on every mutation
//
// The updated field is the only input to merge precedence. Records are kept
// as their verbatim JSON documents (Record) so a record written by a newer
// peer with extra fields survives a round trip through an older one.
//
// Soft references
//
// Some records point at records in other collections (categoryId,
// notebookId). These references are never enforced: a dangling id is valid
// and readers must tolerate it. Deleting a category or notebook clears the
// reference on dependents instead of deleting them (see Cascades).
//
// Snapshots
//
// A Snapshot is the transfer document used by device sync:
//
//	{ "categories": [ {...}, ... ], "todos": [ ... ], ... }
//
// There is no envelope, version or checksum. Collections a peer does not
// know are carried through decoding untouched and skipped by the merge.
package schema
