// Package pool keeps a credential's per-domain authentication key pool at
// its target size: keys over their use limit or near expiry get replacements
// queued, and fresh keys are created to cover any remaining shortfall. The
// scheduler runs reconciliation in the background, one pass in flight per
// (credential, domain) pair.
package pool
