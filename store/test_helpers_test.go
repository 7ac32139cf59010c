package store

import (
	"context"

	"github.com/pashagolub/pgxmock/v4"
)

// setupMockContext routes every store call through the mock by
// planting it where conn() looks for an open transaction.
func setupMockContext(mock pgxmock.PgxPoolIface) context.Context {
	return context.WithValue(context.Background(), txKey{}, mock)
}
