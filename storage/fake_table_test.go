package storage

import (
	"context"
	"sync"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/bytedance/sonic"
)

type fakeTable struct {
	mu        sync.Mutex
	entities  map[string][]byte
	getErr    error
	upsertErr error
	upserts   int
	lastMode  aztables.UpdateMode
}

func newFakeTable() *fakeTable {
	return &fakeTable{entities: map[string][]byte{}}
}

func (f *fakeTable) GetEntity(ctx context.Context, pk, rk string, _ *aztables.GetEntityOptions) (aztables.GetEntityResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return aztables.GetEntityResponse{}, f.getErr
	}
	data, ok := f.entities[pk+"/"+rk]
	if !ok {
		return aztables.GetEntityResponse{}, &azcore.ResponseError{StatusCode: 404, ErrorCode: "ResourceNotFound"}
	}
	return aztables.GetEntityResponse{Value: data}, nil
}

func (f *fakeTable) UpsertEntity(ctx context.Context, entity []byte, opts *aztables.UpsertEntityOptions) (aztables.UpsertEntityResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.upsertErr != nil {
		return aztables.UpsertEntityResponse{}, f.upsertErr
	}
	var ent map[string]any
	if err := sonic.Unmarshal(entity, &ent); err != nil {
		return aztables.UpsertEntityResponse{}, err
	}
	ent["Timestamp"] = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC).Format(time.RFC3339Nano)
	data, err := sonic.Marshal(ent)
	if err != nil {
		return aztables.UpsertEntityResponse{}, err
	}
	pk, _ := ent["PartitionKey"].(string)
	rk, _ := ent["RowKey"].(string)
	f.entities[pk+"/"+rk] = data
	f.upserts++
	if opts != nil {
		f.lastMode = opts.UpdateMode
	}
	return aztables.UpsertEntityResponse{}, nil
}

func (f *fakeTable) raw(pk string) map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ent map[string]any
	_ = sonic.Unmarshal(f.entities[pk+"/"+stateRowKey], &ent)
	return ent
}

func (f *fakeTable) put(pk string, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entities[pk+"/"+stateRowKey] = data
}
