package wallet

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Repository interface {
	GetByPatient(ctx context.Context, patientID uuid.UUID) (*Wallet, error)
	// GetByPatientForUpdate takes the per-wallet row lock.
	GetByPatientForUpdate(ctx context.Context, patientID uuid.UUID) (*Wallet, error)
	// Create inserts w unless the patient already has a wallet.
	Create(ctx context.Context, w *Wallet) error
	UpdateBalance(ctx context.Context, walletID uuid.UUID, balance decimal.Decimal) error
	// AppendTransaction assigns Seq and CreatedAt.
	AppendTransaction(ctx context.Context, t *Transaction) error
	// ListTransactions returns matching entries newest first and the total match count.
	ListTransactions(ctx context.Context, f TransactionFilter) ([]*Transaction, int, error)
	// Journal returns every entry of a wallet in posting order.
	Journal(ctx context.Context, walletID uuid.UUID) ([]*Transaction, error)
	ExistsTransaction(ctx context.Context, f TransactionFilter) (bool, error)
}
