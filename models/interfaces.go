package models

import "context"

type RowSource interface {
	Load(ctx context.Context) ([]TransactionRow, error)
}
