// Package statestore defines the port for durable snapshot storage.
package statestore

import (
	"context"
	"errors"
)

// ErrNoSnapshot is returned by Load when nothing has been stored yet.
var ErrNoSnapshot = errors.New("no snapshot stored")

// Backend reads and writes the encoded snapshot document. Implementations
// store one document and replace it on every Save.
type Backend interface {
	Load(ctx context.Context) ([]byte, error)
	Save(ctx context.Context, data []byte) error
}
