package main

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const (
	databaseSQLite   = "sqlite"
	databasePostgres = "postgres"
)

var ErrDocumentExists = errors.New("document already exists")

// Document is one entry of a collection. CreatedAt is assigned by the store.
type Document struct {
	Key       string
	Data      string
	CreatedAt time.Time
}

// DocumentStore is a collection-of-documents store addressed by
// (collection, key).
type DocumentStore interface {
	Exists(ctx context.Context, collection, key string) (bool, error)
	Count(ctx context.Context, collection string) (int, error)
	// List returns every document in the collection, oldest first.
	List(ctx context.Context, collection string) ([]Document, error)
	// Create writes a new document, or returns ErrDocumentExists without
	// writing when the key is already taken.
	Create(ctx context.Context, collection, key, data string) (Document, error)
	Close() error
}

func OpenDocumentStore(kind, dsn string) (DocumentStore, error) {
	switch kind {
	case databaseSQLite:
		return OpenSQLiteStore(dsn)
	case databasePostgres:
		return OpenPostgresStore(dsn)
	default:
		return nil, fmt.Errorf("unknown database type %q", kind)
	}
}
