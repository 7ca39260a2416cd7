// Package sanitizer normalizes user-supplied strings before validation and
// storage.
//
// All functions are idempotent and never fail: invalid input collapses to
// the empty string, which validation then rejects.
package sanitizer
