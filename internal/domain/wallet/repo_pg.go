package wallet

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/hms/hms/internal/platform/db"
)

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) conn(ctx context.Context) db.Queryable { return db.Conn(ctx, r.pool) }

const walletCols = `id, patient_id, balance, created_at, updated_at`

func (r *repoPG) scanWallet(row pgx.Row) (*Wallet, error) {
	var w Wallet
	err := row.Scan(&w.ID, &w.PatientID, &w.Balance, &w.CreatedAt, &w.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrWalletMissing
	}
	return &w, err
}

func (r *repoPG) GetByPatient(ctx context.Context, patientID uuid.UUID) (*Wallet, error) {
	return r.scanWallet(r.conn(ctx).QueryRow(ctx,
		`SELECT `+walletCols+` FROM wallets WHERE patient_id = $1`, patientID))
}

func (r *repoPG) GetByPatientForUpdate(ctx context.Context, patientID uuid.UUID) (*Wallet, error) {
	return r.scanWallet(r.conn(ctx).QueryRow(ctx,
		`SELECT `+walletCols+` FROM wallets WHERE patient_id = $1 FOR UPDATE`, patientID))
}

func (r *repoPG) Create(ctx context.Context, w *Wallet) error {
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO wallets (id, patient_id, balance) VALUES ($1, $2, $3)
		ON CONFLICT (patient_id) DO NOTHING`, w.ID, w.PatientID, w.Balance)
	return err
}

func (r *repoPG) UpdateBalance(ctx context.Context, walletID uuid.UUID, balance decimal.Decimal) error {
	_, err := r.conn(ctx).Exec(ctx,
		`UPDATE wallets SET balance = $2, updated_at = NOW() WHERE id = $1`, walletID, balance)
	return err
}

const txCols = `id, wallet_id, seq, kind, direction, amount, balance_after, description,
	invoice_id, payment_id, admission_id, user_id, service_date, created_at`

func (r *repoPG) AppendTransaction(ctx context.Context, t *Transaction) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO wallet_transactions (id, wallet_id, seq, kind, direction, amount, balance_after,
			description, invoice_id, payment_id, admission_id, user_id, service_date)
		VALUES ($1, $2,
			(SELECT COALESCE(MAX(seq), 0) + 1 FROM wallet_transactions WHERE wallet_id = $2),
			$3, $4, $5, $6, $7, $8, $9, $10, NULLIF($11, ''), $12)
		RETURNING seq, created_at`,
		t.ID, t.WalletID, t.Kind, t.Direction, t.Amount, t.BalanceAfter, t.Description,
		t.InvoiceID, t.PaymentID, t.AdmissionID, t.UserID, t.ServiceDate).Scan(&t.Seq, &t.CreatedAt)
}

func scanTx(rows pgx.Rows) (*Transaction, error) {
	var t Transaction
	var userID *string
	if err := rows.Scan(&t.ID, &t.WalletID, &t.Seq, &t.Kind, &t.Direction, &t.Amount, &t.BalanceAfter,
		&t.Description, &t.InvoiceID, &t.PaymentID, &t.AdmissionID, &userID, &t.ServiceDate, &t.CreatedAt); err != nil {
		return nil, err
	}
	if userID != nil {
		t.UserID = *userID
	}
	return &t, nil
}

func where(f TransactionFilter) (string, []interface{}) {
	var clauses []string
	var args []interface{}
	add := func(clause string, v interface{}) {
		args = append(args, v)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}
	if f.WalletID != nil {
		add("wallet_id = $%d", *f.WalletID)
	}
	if len(f.Kinds) > 0 {
		kinds := make([]string, len(f.Kinds))
		for i, k := range f.Kinds {
			kinds[i] = string(k)
		}
		add("kind = ANY($%d)", kinds)
	}
	if f.InvoiceID != nil {
		add("invoice_id = $%d", *f.InvoiceID)
	}
	if f.PaymentID != nil {
		add("payment_id = $%d", *f.PaymentID)
	}
	if f.AdmissionID != nil {
		add("admission_id = $%d", *f.AdmissionID)
	}
	if f.ServiceDate != nil {
		add("service_date = $%d::date", f.ServiceDate.Format("2006-01-02"))
	}
	if len(clauses) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func (r *repoPG) ListTransactions(ctx context.Context, f TransactionFilter) ([]*Transaction, int, error) {
	w, args := where(f)
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM wallet_transactions`+w, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	q := `SELECT ` + txCols + ` FROM wallet_transactions` + w + ` ORDER BY wallet_id, seq DESC`
	if f.Limit > 0 {
		q += fmt.Sprintf(" LIMIT %d OFFSET %d", f.Limit, f.Offset)
	}
	rows, err := r.conn(ctx).Query(ctx, q, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []*Transaction
	for rows.Next() {
		t, err := scanTx(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, t)
	}
	return out, total, rows.Err()
}

func (r *repoPG) Journal(ctx context.Context, walletID uuid.UUID) ([]*Transaction, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+txCols+` FROM wallet_transactions WHERE wallet_id = $1 ORDER BY seq`, walletID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Transaction
	for rows.Next() {
		t, err := scanTx(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *repoPG) ExistsTransaction(ctx context.Context, f TransactionFilter) (bool, error) {
	w, args := where(f)
	var ok bool
	err := r.conn(ctx).QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM wallet_transactions`+w+`)`, args...).Scan(&ok)
	return ok, err
}
