// Package blob defines the key/value byte store used for source content,
// parsed documents and postings, with disk, Redis and in-memory backends.
package blob

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned by Get for a missing key.
var ErrNotFound = errors.New("blob not found")

// Store is the blob contract the engine depends on.
type Store interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	// Clear removes every key of this store.
	Clear(ctx context.Context) error
}

// Kind names one of the three per-index stores.
type Kind string

const (
	KindSource   Kind = "source"
	KindParsed   Kind = "parsed"
	KindPostings Kind = "postings"
)

// Provider opens the store of the given kind for one index.
type Provider interface {
	Open(indexGUID string, kind Kind) (Store, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(indexGUID string, kind Kind) (Store, error)

func (f ProviderFunc) Open(indexGUID string, kind Kind) (Store, error) {
	return f(indexGUID, kind)
}

func validateKey(key string) error {
	if key == "" {
		return fmt.Errorf("empty blob key")
	}
	if strings.ContainsAny(key, `/\`) || key == "." || key == ".." {
		return fmt.Errorf("invalid blob key %q", key)
	}
	return nil
}
