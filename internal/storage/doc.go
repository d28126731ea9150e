// Package storage is the key-value persistence layer behind the sign-in
// state (per-day records and display history).
//
// Values are opaque bytes; callers own their encoding. Every driver treats a
// Put as a whole-value replacement, so readers never observe partial writes.
package storage
