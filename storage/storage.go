package storage

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"

	"kanban-api/domain"
)

// TaskFilter narrows a task listing within one owner's partition. Empty
// fields match everything.
type TaskFilter struct {
	BoardID string
	Status  domain.Status
}

// TaskTable persists task records in an Azure table. The partition key is
// the owner id and the row key is the task id.
type TaskTable struct {
	table *aztables.Client
	now   func() time.Time
}

func tableClientOptions() *aztables.ClientOptions {
	return &aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute * 3,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
}

// NewTaskTable creates a TaskTable from the given connection string.
func NewTaskTable(connStr, tableName string) (*TaskTable, error) {
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, tableClientOptions())
	if err != nil {
		return nil, err
	}
	return &TaskTable{table: svc.NewClient(tableName), now: time.Now}, nil
}

type taskEntity struct {
	aztables.Entity
	ETag        string  `json:"odata.etag,omitempty"`
	Title       string  `json:"Title"`
	Description *string `json:"Description,omitempty"`
	Status      string  `json:"Status"`
	Order       int     `json:"Order"`
	ImageFileID *string `json:"ImageFileId,omitempty"`
	BoardID     *string `json:"BoardId,omitempty"`
	CreatedAt   string  `json:"CreatedAt"`
	UpdatedAt   string  `json:"UpdatedAt"`
}

// taskUpdate is a merge payload; nil fields are not sent.
type taskUpdate struct {
	PartitionKey string         `json:"PartitionKey"`
	RowKey       string         `json:"RowKey"`
	Title        *string        `json:"Title,omitempty"`
	Description  *string        `json:"Description,omitempty"`
	Status       *domain.Status `json:"Status,omitempty"`
	Order        *int           `json:"Order,omitempty"`
	ImageFileID  *string        `json:"ImageFileId,omitempty"`
	BoardID      *string        `json:"BoardId,omitempty"`
	UpdatedAt    string         `json:"UpdatedAt"`
}

func decodeTaskEntity(data []byte) (domain.TaskRecord, error) {
	var ent taskEntity
	if err := json.Unmarshal(data, &ent); err != nil {
		return domain.TaskRecord{}, err
	}
	owner := ent.PartitionKey
	rec := domain.TaskRecord{
		ID:          ent.RowKey,
		Title:       ent.Title,
		Description: ent.Description,
		Status:      domain.Status(ent.Status),
		Order:       ent.Order,
		ImageFileID: ent.ImageFileID,
		BoardID:     ent.BoardID,
		UserID:      &owner,
		ETag:        ent.ETag,
	}
	rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, ent.CreatedAt)
	rec.UpdatedAt, _ = time.Parse(time.RFC3339Nano, ent.UpdatedAt)
	return rec, nil
}

// taskRow is the write shape of a task entity.
type taskRow struct {
	PartitionKey string  `json:"PartitionKey"`
	RowKey       string  `json:"RowKey"`
	Title        string  `json:"Title"`
	Description  *string `json:"Description,omitempty"`
	Status       string  `json:"Status"`
	Order        int     `json:"Order"`
	ImageFileID  *string `json:"ImageFileId,omitempty"`
	BoardID      *string `json:"BoardId,omitempty"`
	CreatedAt    string  `json:"CreatedAt"`
	UpdatedAt    string  `json:"UpdatedAt"`
}

func encodeTaskEntity(ownerID string, rec domain.TaskRecord) ([]byte, error) {
	return json.Marshal(taskRow{
		PartitionKey: ownerID,
		RowKey:       rec.ID,
		Title:        rec.Title,
		Description:  rec.Description,
		Status:       string(rec.Status),
		Order:        rec.Order,
		ImageFileID:  rec.ImageFileID,
		BoardID:      rec.BoardID,
		CreatedAt:    rec.CreatedAt.UTC().Format(time.RFC3339Nano),
		UpdatedAt:    rec.UpdatedAt.UTC().Format(time.RFC3339Nano),
	})
}

// odataQuote renders s as an OData string literal.
func odataQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func buildTaskFilter(ownerID string, f TaskFilter) string {
	clauses := []string{"PartitionKey eq " + odataQuote(ownerID)}
	if f.Status != "" {
		clauses = append(clauses, "Status eq "+odataQuote(string(f.Status)))
	}
	if f.BoardID != "" {
		clauses = append(clauses, "BoardId eq "+odataQuote(f.BoardID))
	}
	return strings.Join(clauses, " and ")
}

// mapResponseError translates Azure status codes into domain errors.
func mapResponseError(err error) error {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		switch respErr.StatusCode {
		case http.StatusNotFound:
			return errors.Join(domain.ErrNotFound, err)
		case http.StatusConflict, http.StatusPreconditionFailed:
			return errors.Join(domain.ErrConflict, err)
		}
	}
	return err
}

// ListTasks returns every task of the owner matching the filter.
func (s *TaskTable) ListTasks(ctx context.Context, ownerID string, f TaskFilter) ([]domain.TaskRecord, error) {
	filter := buildTaskFilter(ownerID, f)
	pager := s.table.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	tasks := []domain.TaskRecord{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, mapResponseError(err)
		}
		for _, e := range resp.Entities {
			rec, err := decodeTaskEntity(e)
			if err != nil {
				return nil, err
			}
			tasks = append(tasks, rec)
		}
	}
	return tasks, nil
}

// MaxOrder returns the highest order in the filtered partition. ok is false
// when the partition is empty.
func (s *TaskTable) MaxOrder(ctx context.Context, ownerID string, f TaskFilter) (top int, ok bool, err error) {
	filter := buildTaskFilter(ownerID, f)
	sel := "Order"
	pager := s.table.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter, Select: &sel})
	top = math.MinInt
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return 0, false, mapResponseError(err)
		}
		for _, e := range resp.Entities {
			var row struct {
				Order int `json:"Order"`
			}
			if err := json.Unmarshal(e, &row); err != nil {
				return 0, false, err
			}
			if row.Order > top {
				top = row.Order
			}
			ok = true
		}
	}
	if !ok {
		return 0, false, nil
	}
	return top, true, nil
}

// GetTask loads a single task.
func (s *TaskTable) GetTask(ctx context.Context, ownerID, id string) (domain.TaskRecord, error) {
	resp, err := s.table.GetEntity(ctx, ownerID, id, nil)
	if err != nil {
		return domain.TaskRecord{}, mapResponseError(err)
	}
	rec, err := decodeTaskEntity(resp.Value)
	if err != nil {
		return domain.TaskRecord{}, err
	}
	rec.ETag = string(resp.ETag)
	return rec, nil
}

// InsertTask stores a new record. The id must already be assigned.
func (s *TaskTable) InsertTask(ctx context.Context, ownerID string, rec domain.TaskRecord) (domain.TaskRecord, error) {
	now := s.now().UTC()
	rec.CreatedAt = now
	rec.UpdatedAt = now
	rec.UserID = &ownerID
	payload, err := encodeTaskEntity(ownerID, rec)
	if err != nil {
		return domain.TaskRecord{}, err
	}
	resp, err := s.table.AddEntity(ctx, payload, nil)
	if err != nil {
		return domain.TaskRecord{}, mapResponseError(err)
	}
	rec.ETag = string(resp.ETag)
	return rec, nil
}

// UpdateTask merges the patch into the stored record and returns the record
// as persisted. A non-empty patch.IfMatch makes the write conditional.
func (s *TaskTable) UpdateTask(ctx context.Context, ownerID, id string, patch domain.TaskPatch) (domain.TaskRecord, error) {
	upd := taskUpdate{
		PartitionKey: ownerID,
		RowKey:       id,
		Title:        patch.Title,
		Description:  patch.Description,
		Status:       patch.Status,
		Order:        patch.Order,
		ImageFileID:  patch.ImageFileID,
		BoardID:      patch.BoardID,
		UpdatedAt:    s.now().UTC().Format(time.RFC3339Nano),
	}
	payload, err := json.Marshal(upd)
	if err != nil {
		return domain.TaskRecord{}, err
	}
	etag := azcore.ETagAny
	if patch.IfMatch != "" {
		etag = azcore.ETag(patch.IfMatch)
	}
	if _, err := s.table.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{IfMatch: &etag, UpdateMode: aztables.UpdateModeMerge}); err != nil {
		return domain.TaskRecord{}, mapResponseError(err)
	}
	return s.GetTask(ctx, ownerID, id)
}

// DeleteTask removes a record. Deleting a missing record is an error.
func (s *TaskTable) DeleteTask(ctx context.Context, ownerID, id string) error {
	etag := azcore.ETagAny
	_, err := s.table.DeleteEntity(ctx, ownerID, id, &aztables.DeleteEntityOptions{IfMatch: &etag})
	return mapResponseError(err)
}
