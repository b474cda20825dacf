package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/launchindex/indexer/internal/indexer"
)

const transactionColumns = `id, user_id, amount, type, description, address_id, created_at`

func scanTransaction(row rowScanner) (indexer.CreditTransaction, error) {
	var (
		tx  indexer.CreditTransaction
		typ string
	)
	err := row.Scan(&tx.ID, &tx.UserID, &tx.Amount, &typ, &tx.Description,
		&tx.AddressID, &tx.CreatedAt)
	tx.Type = indexer.TransactionType(typ)
	return tx, err
}

func collectTransactions(rows pgx.Rows) ([]indexer.CreditTransaction, error) {
	defer rows.Close()
	var out []indexer.CreditTransaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		out = append(out, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transactions: %w", err)
	}
	return out, nil
}

// Balance sums the user's transaction amounts.
func (s *Store) Balance(ctx context.Context, userID string) (int, error) {
	var balance int
	err := s.db.QueryRow(ctx, `
SELECT COALESCE(SUM(amount), 0) FROM credit_transactions WHERE user_id = $1`, userID).Scan(&balance)
	if err != nil {
		return 0, fmt.Errorf("read balance: %w", err)
	}
	return balance, nil
}

// AddCredits appends a purchase or bonus row and returns the new balance.
func (s *Store) AddCredits(ctx context.Context, userID string, amount int, typ indexer.TransactionType, description string) (int, error) {
	id, err := s.idGen.NewID()
	if err != nil {
		return 0, fmt.Errorf("generate transaction id: %w", err)
	}
	_, err = s.db.Exec(ctx, `
INSERT INTO credit_transactions (id, user_id, amount, type, description, address_id, created_at)
VALUES ($1, $2, $3, $4, $5, '', $6)`,
		id, userID, amount, string(typ), strings.TrimSpace(description), s.clock.Now())
	if err != nil {
		return 0, fmt.Errorf("insert transaction: %w", err)
	}
	return s.Balance(ctx, userID)
}

// Transactions returns a user's ledger rows, newest first.
func (s *Store) Transactions(ctx context.Context, userID string, limit, offset int) ([]indexer.CreditTransaction, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(ctx, `
SELECT `+transactionColumns+` FROM credit_transactions
WHERE user_id = $1
ORDER BY created_at DESC
LIMIT $2 OFFSET $3`, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	return collectTransactions(rows)
}

// TransactionsForAddress returns the ledger rows referencing one address.
func (s *Store) TransactionsForAddress(ctx context.Context, addressID string) ([]indexer.CreditTransaction, error) {
	rows, err := s.db.Query(ctx, `
SELECT `+transactionColumns+` FROM credit_transactions
WHERE address_id = $1
ORDER BY created_at`, addressID)
	if err != nil {
		return nil, fmt.Errorf("list address transactions: %w", err)
	}
	return collectTransactions(rows)
}
