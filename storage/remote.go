package storage

import (
	"context"
	"fmt"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/jmossahebi/jello2/domain"
	"github.com/jmossahebi/jello2/telemetry"
)

const (
	stateRowKey = "state"

	boardsProperty = "Boards"
	partsProperty  = "BoardsParts"
	activeProperty = "ActiveBoardId"

	// Table string properties hold at most 32K UTF-16 code units.
	maxChunkRunes = 16000
)

// TableClient is the subset of *aztables.Client used for snapshot documents.
type TableClient interface {
	GetEntity(ctx context.Context, partitionKey, rowKey string, options *aztables.GetEntityOptions) (aztables.GetEntityResponse, error)
	UpsertEntity(ctx context.Context, entity []byte, options *aztables.UpsertEntityOptions) (aztables.UpsertEntityResponse, error)
}

// TableConfig selects how to reach the state table. A connection string
// takes precedence over a service URL with a token credential.
type TableConfig struct {
	ConnectionString string
	ServiceURL       string
	Credential       azcore.TokenCredential
	Table            string
}

func clientOptions() *aztables.ClientOptions {
	return &aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Second * 30,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
}

// NewServiceClient builds a table service client from cfg.
func NewServiceClient(cfg TableConfig) (*aztables.ServiceClient, error) {
	switch {
	case cfg.ConnectionString != "":
		return aztables.NewServiceClientFromConnectionString(cfg.ConnectionString, clientOptions())
	case cfg.ServiceURL != "" && cfg.Credential != nil:
		return aztables.NewServiceClient(cfg.ServiceURL, cfg.Credential, clientOptions())
	default:
		return nil, fmt.Errorf("table storage is not configured")
	}
}

// NewTableClient builds a client for cfg.Table.
func NewTableClient(cfg TableConfig) (*aztables.Client, error) {
	svc, err := NewServiceClient(cfg)
	if err != nil {
		return nil, err
	}
	return svc.NewClient(cfg.Table), nil
}

// Document is a snapshot together with its server-assigned timestamp.
type Document struct {
	State     domain.State
	UpdatedAt time.Time
}

// Tables stores one snapshot entity per user in an Azure table.
type Tables struct {
	table  TableClient
	logger *log.Logger
}

func NewTables(table TableClient, logger *log.Logger) *Tables {
	return &Tables{table: table, logger: logger}
}

// FetchDocument reads the user's snapshot entity. A missing entity and a
// malformed snapshot both yield nil.
func (t *Tables) FetchDocument(ctx context.Context, userID string) (doc *Document, err error) {
	ctx, op := telemetry.Start(ctx, t.logger, "remote", "fetch", attribute.String("jello.user_id", userID))
	defer func() { op.End(err) }()

	resp, err := t.table.GetEntity(ctx, userID, stateRowKey, nil)
	if err != nil {
		if isNotFound(err) {
			op.SetAttributes(attribute.Bool("jello.found", false))
			return nil, nil
		}
		return nil, classify("fetch snapshot", err)
	}
	doc, err = decodeEntity(resp.Value)
	if err != nil {
		if t.logger != nil {
			t.logger.WithError(err).WithField("user_id", userID).Warn("discarding malformed remote snapshot")
		}
		op.SetAttributes(attribute.Bool("jello.malformed", true))
		return nil, nil
	}
	op.SetAttributes(attribute.Bool("jello.found", true), attribute.Int("jello.boards", len(doc.State.Boards)))
	if !doc.UpdatedAt.IsZero() {
		op.SetAttributes(attribute.String("jello.updated_at", doc.UpdatedAt.UTC().Format(time.RFC3339Nano)))
	}
	return doc, nil
}

// Fetch implements the snapshot backend used by Cache and RemoteStore.
func (t *Tables) Fetch(ctx context.Context, userID string) (*domain.State, error) {
	doc, err := t.FetchDocument(ctx, userID)
	if err != nil || doc == nil {
		return nil, err
	}
	return &doc.State, nil
}

// Write replaces the user's snapshot entity.
func (t *Tables) Write(ctx context.Context, userID string, s domain.State) (err error) {
	ctx, op := telemetry.Start(ctx, t.logger, "remote", "write",
		attribute.String("jello.user_id", userID),
		attribute.Int("jello.boards", len(s.Boards)))
	defer func() { op.End(err) }()

	payload, err := encodeEntity(userID, s)
	if err != nil {
		return classify("encode snapshot", err)
	}
	op.SetAttributes(attribute.Int("jello.entity_bytes", len(payload)))
	if _, err := t.table.UpsertEntity(ctx, payload, &aztables.UpsertEntityOptions{UpdateMode: aztables.UpdateModeReplace}); err != nil {
		return classify("write snapshot", err)
	}
	return nil
}

func encodeEntity(userID string, s domain.State) ([]byte, error) {
	boards := s.Boards
	if boards == nil {
		boards = []domain.Board{}
	}
	data, err := sonic.MarshalString(boards)
	if err != nil {
		return nil, err
	}
	chunks := chunkString(data, maxChunkRunes)
	ent := map[string]any{
		"PartitionKey": userID,
		"RowKey":       stateRowKey,
		partsProperty:  len(chunks),
		activeProperty: s.ActiveBoardID,
	}
	for i, c := range chunks {
		ent[chunkProperty(i)] = c
	}
	return sonic.Marshal(ent)
}

func decodeEntity(data []byte) (*Document, error) {
	var ent map[string]any
	if err := sonic.Unmarshal(data, &ent); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformed, err)
	}
	parts := 1
	if v, ok := ent[partsProperty].(float64); ok && v >= 1 {
		parts = int(v)
	}
	var boardsJSON string
	for i := 0; i < parts; i++ {
		chunk, ok := ent[chunkProperty(i)].(string)
		if !ok {
			return nil, fmt.Errorf("%w: missing %s", domain.ErrMalformed, chunkProperty(i))
		}
		boardsJSON += chunk
	}
	var boards []domain.Board
	if err := sonic.UnmarshalString(boardsJSON, &boards); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformed, err)
	}
	if boards == nil {
		return nil, fmt.Errorf("%w: boards is not an array", domain.ErrMalformed)
	}
	s := domain.State{Boards: boards}
	s.ActiveBoardID, _ = ent[activeProperty].(string)
	if err := domain.Normalize(&s); err != nil {
		return nil, err
	}
	doc := &Document{State: s}
	if ts, ok := ent["Timestamp"].(string); ok {
		doc.UpdatedAt, _ = time.Parse(time.RFC3339Nano, ts)
	}
	return doc, nil
}

func chunkProperty(i int) string {
	if i == 0 {
		return boardsProperty
	}
	return boardsProperty + strconv.Itoa(i)
}

// chunkString splits s into pieces of at most n runes.
func chunkString(s string, n int) []string {
	if utf8.RuneCountInString(s) <= n {
		return []string{s}
	}
	var out []string
	for len(s) > 0 {
		i, count := 0, 0
		for i < len(s) && count < n {
			_, size := utf8.DecodeRuneInString(s[i:])
			i += size
			count++
		}
		out = append(out, s[:i])
		s = s[i:]
	}
	return out
}
