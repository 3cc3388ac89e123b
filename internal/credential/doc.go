// Package credential holds the credential aggregate: a holder's attested
// identity attributes plus, per domain, the certified and pending
// authentication keys the pool manager maintains. Storage is behind the
// Store interface with SQLite and in-memory implementations.
package credential
