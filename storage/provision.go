package storage

import (
	"context"
	"errors"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
)

// TableCreator is the subset of *aztables.ServiceClient used to provision
// the state table.
type TableCreator interface {
	CreateTable(ctx context.Context, name string, options *aztables.CreateTableOptions) (aztables.CreateTableResponse, error)
}

// EnsureTable creates the named table. It reports false without error when
// the table already exists.
func EnsureTable(ctx context.Context, svc TableCreator, name string) (bool, error) {
	if name == "" {
		return false, errors.New("missing table name")
	}
	if _, err := svc.CreateTable(ctx, name, nil); err != nil {
		var respErr *azcore.ResponseError
		if errors.As(err, &respErr) && respErr.ErrorCode == string(aztables.TableAlreadyExists) {
			return false, nil
		}
		return false, classify("create table", err)
	}
	return true, nil
}
