// Package curve defines the closed registry of elliptic curves used for
// authentication keys, keyed by their COSE registry codes.
package curve
