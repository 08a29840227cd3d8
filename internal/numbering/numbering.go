// Package numbering issues human readable document numbers per organization.
package numbering

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fleetdesk/fleetdesk/internal/platform/db"
)

// Document type prefixes.
const (
	DocWorkOrder     = "WO"
	DocRequisition   = "PR"
	DocPurchaseOrder = "PO"
	DocEstimate      = "EST"
)

// Generator hands out sequence numbers from document_sequences. Calls made
// inside a transaction join it, so a rolled back document releases its number.
type Generator struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewGenerator constructs a Generator.
func NewGenerator(pool *pgxpool.Pool) *Generator {
	return &Generator{pool: pool, now: time.Now}
}

// Next returns the next number for docType, e.g. WO-2610-0042.
func (g *Generator) Next(ctx context.Context, orgID int64, docType string) (string, error) {
	at := g.now()
	var seq int64
	err := db.Conn(ctx, g.pool).QueryRow(ctx, `
		INSERT INTO document_sequences (org_id, doc_type, period, seq)
		VALUES ($1, $2, $3, 1)
		ON CONFLICT (org_id, doc_type, period)
		DO UPDATE SET seq = document_sequences.seq + 1
		RETURNING seq
	`, orgID, docType, Period(at)).Scan(&seq)
	if err != nil {
		return "", fmt.Errorf("numbering: next %s: %w", docType, err)
	}
	return Format(docType, at, seq), nil
}

// Period is the sequence bucket for at.
func Period(at time.Time) string {
	return at.Format("200601")
}

// Format renders a document number. Sequences restart every month.
func Format(docType string, at time.Time, seq int64) string {
	return fmt.Sprintf("%s-%s-%04d", docType, at.Format("0601"), seq)
}
