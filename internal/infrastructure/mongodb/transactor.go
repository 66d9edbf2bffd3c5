package mongodb

import (
	"context"

	"go.mongodb.org/mongo-driver/mongo"

	pkgmongo "github.com/wms-platform/ledger-engine/pkg/mongodb"
)

// Transactor runs engine work inside a MongoDB transaction. The session
// context handed to fn carries the transaction, so every store call made
// with it joins in. Requires a replica set.
type Transactor struct {
	client *pkgmongo.InstrumentedClient
}

func NewTransactor(client *pkgmongo.InstrumentedClient) *Transactor {
	return &Transactor{client: client}
}

func (t *Transactor) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return t.client.WithTransaction(ctx, func(sessCtx mongo.SessionContext) error {
		return fn(sessCtx)
	})
}
