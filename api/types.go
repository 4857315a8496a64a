// Package api holds the wire-level types and configuration shared by every
// other package in the module: opaque ids, the perceptual-hash bit-vector,
// distances, and the similarity index's tunable constants.
package api

// PHash is a 64-bit perceptual-hash bit-vector. It is treated as raw bits —
// no endianness dependency escapes the core.
type PHash uint64

// PHashID is the stable integer id a PHash is interned to. Never reused.
type PHashID int64

// FileID is an opaque positive integer supplied by the file-identity store.
type FileID int64

// ServiceID is an opaque positive integer supplied by the service registry.
type ServiceID int64

// ReasonID is an opaque positive integer supplied by the string-interning
// store, naming a petition or deletion reason.
type ReasonID int64

// Distance is a Hamming distance, an integer in [0,64].
type Distance int

// Match is one similarity search hit.
type Match struct {
	FileID   FileID
	Distance Distance
}

// CurrentFileRow is one row of AddFiles / GetCurrentHashIdsToTimestamps.
type CurrentFileRow struct {
	FileID    FileID
	Timestamp int64
}

// UndeleteRow is one row returned by GetUndeleteRows.
type UndeleteRow struct {
	FileID            FileID
	OriginalTimestamp int64
}

// DeleteRow is one row accepted by RecordDeleteFiles.
type DeleteRow struct {
	FileID            FileID
	OriginalTimestamp int64
}
