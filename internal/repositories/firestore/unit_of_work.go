package firestore

import (
	"context"
	"errors"

	"cloud.google.com/go/firestore"

	pfirestore "github.com/panierapp/api/internal/platform/firestore"
	"github.com/panierapp/api/internal/repositories"
)

type txContextKey struct{}

// txFromContext returns the active transaction, if any. Repositories use
// it to route writes through the transaction started by UnitOfWork.
func txFromContext(ctx context.Context) *firestore.Transaction {
	tx, _ := ctx.Value(txContextKey{}).(*firestore.Transaction)
	return tx
}

// UnitOfWork groups repository writes into one Firestore transaction.
type UnitOfWork struct {
	provider *pfirestore.Provider
}

// NewUnitOfWork constructs a Firestore-backed unit of work.
func NewUnitOfWork(provider *pfirestore.Provider) (*UnitOfWork, error) {
	if provider == nil {
		return nil, errors.New("unit of work requires firestore provider")
	}
	return &UnitOfWork{provider: provider}, nil
}

// RunInTx executes fn inside a transaction. Repository calls made with the
// supplied context join the transaction and commit or roll back together.
func (u *UnitOfWork) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if u == nil || u.provider == nil {
		return errors.New("unit of work not initialised")
	}
	if fn == nil {
		return errors.New("unit of work: function is required")
	}

	client, err := u.provider.Client(ctx)
	if err != nil {
		return err
	}
	return pfirestore.RunTransaction(ctx, client, func(ctx context.Context, tx *firestore.Transaction) error {
		return fn(context.WithValue(ctx, txContextKey{}, tx))
	})
}

var _ repositories.UnitOfWork = (*UnitOfWork)(nil)
