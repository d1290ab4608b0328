package storage

import (
	"context"
	"database/sql"
	"fmt"

	"thread_billing/internal/models"
)

// InvoiceRepository handles per-thread invoices
type InvoiceRepository struct {
	db *DB
}

// NewInvoiceRepository creates a new invoice repository
func NewInvoiceRepository(db *DB) *InvoiceRepository {
	return &InvoiceRepository{db: db}
}

// GetByThread retrieves the invoice for a thread, if one exists
func (r *InvoiceRepository) GetByThread(ctx context.Context, threadID int64) (*models.Invoice, error) {
	var invoice models.Invoice
	query := `
		SELECT invoice_id, user_id, thread_id, total_amount, status, invoice_date
		FROM user_invoices
		WHERE thread_id = $1
	`

	err := r.db.conn.GetContext(ctx, &invoice, query, threadID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrInvoiceNotFound
		}
		return nil, fmt.Errorf("failed to get invoice for thread: %w", err)
	}

	return &invoice, nil
}

// Create inserts a new invoice and writes the generated id and date back
// onto it
func (r *InvoiceRepository) Create(ctx context.Context, invoice *models.Invoice) error {
	query := `
		INSERT INTO user_invoices (user_id, thread_id, total_amount, status, invoice_date)
		VALUES ($1, $2, $3, $4, NOW())
		RETURNING invoice_id, invoice_date
	`

	row := r.db.conn.QueryRowxContext(ctx, query,
		invoice.UserID, invoice.ThreadID, invoice.TotalAmount, invoice.Status)
	if err := row.Scan(&invoice.ID, &invoice.CreatedAt); err != nil {
		return fmt.Errorf("failed to create invoice: %w", err)
	}

	return nil
}

// UpdateTotal replaces the total amount of an invoice. Used by
// reconciliation after the ledger has been replayed.
func (r *InvoiceRepository) UpdateTotal(ctx context.Context, invoiceID int64, total float64) error {
	query := `UPDATE user_invoices SET total_amount = $2 WHERE invoice_id = $1`

	result, err := r.db.conn.ExecContext(ctx, query, invoiceID, total)
	if err != nil {
		return fmt.Errorf("failed to update invoice total: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if rows == 0 {
		return ErrInvoiceNotFound
	}

	return nil
}

// ListByUser retrieves all invoices for a user, newest first
func (r *InvoiceRepository) ListByUser(ctx context.Context, userID int64) ([]*models.Invoice, error) {
	query := `
		SELECT invoice_id, user_id, thread_id, total_amount, status, invoice_date
		FROM user_invoices
		WHERE user_id = $1
		ORDER BY invoice_date DESC
	`

	var invoices []*models.Invoice
	err := r.db.conn.SelectContext(ctx, &invoices, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list invoices for user: %w", err)
	}

	return invoices, nil
}
