// ABOUTME: Store interface for credential persistence
// ABOUTME: Aggregate-level save/load; implementations are SQLite and in-memory

package credential

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a requested credential does not exist
var ErrNotFound = errors.New("credential not found")

// Store defines the interface for credential persistence. Credentials are
// saved and loaded as whole aggregates, keys included.
type Store interface {
	SaveCredential(ctx context.Context, cred *Credential) error
	GetCredential(ctx context.Context, id string) (*Credential, error)
	ListCredentialIDs(ctx context.Context) ([]string, error)
	DeleteCredential(ctx context.Context, id string) error

	// Close releases any resources held by the store
	Close() error
}
