// Package pad owns one-time-pad key material: ordered pages of random
// content shared with exactly one peer, and the durable record of
// which pages have been consumed.
//
// The core correctness property of the whole system lives here: a page
// identifier, once used, must never be allocated again. Allocation is
// linearized across goroutines by a mutex and across cooperating
// processes by an advisory lock on a dedicated lock file, held only
// for the scan-and-record critical section.
//
// On-disk layout per peer relationship:
//
//	cipher.txt      newline-delimited records, an 8-character page
//	                identifier immediately followed by the page content
//	used_pages.txt  append-only log of consumed identifiers, the
//	                source of truth for the used set
//	pad.lock        advisory lock file, holds no data
package pad
