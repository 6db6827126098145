package storage

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"

	"kanban-api/domain"
)

const (
	userPartition  = "user"
	emailPartition = "email"
)

// UserTable persists accounts. Each user has a row keyed by id and an email
// index row that enforces uniqueness of the address.
type UserTable struct {
	table *aztables.Client
}

// NewUserTable creates a UserTable from the given connection string.
func NewUserTable(connStr, tableName string) (*UserTable, error) {
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, tableClientOptions())
	if err != nil {
		return nil, err
	}
	return &UserTable{table: svc.NewClient(tableName)}, nil
}

type userRow struct {
	PartitionKey      string `json:"PartitionKey"`
	RowKey            string `json:"RowKey"`
	Name              string `json:"Name,omitempty"`
	Email             string `json:"Email,omitempty"`
	EmailVerification bool   `json:"EmailVerification,omitempty"`
	PasswordHash      string `json:"PasswordHash,omitempty"`
	CreatedAt         string `json:"CreatedAt,omitempty"`
	UserID            string `json:"UserId,omitempty"`
}

func normaliseEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func decodeUserRow(data []byte) (domain.User, error) {
	var row userRow
	if err := json.Unmarshal(data, &row); err != nil {
		return domain.User{}, err
	}
	hash, err := base64.StdEncoding.DecodeString(row.PasswordHash)
	if err != nil {
		return domain.User{}, err
	}
	u := domain.User{
		ID:                row.RowKey,
		Name:              row.Name,
		Email:             row.Email,
		EmailVerification: row.EmailVerification,
		PasswordHash:      hash,
	}
	u.CreatedAt, _ = time.Parse(time.RFC3339Nano, row.CreatedAt)
	return u, nil
}

// InsertUser stores a new account. It fails with domain.ErrUserExists when
// the email is taken.
func (s *UserTable) InsertUser(ctx context.Context, u domain.User) error {
	email := normaliseEmail(u.Email)
	index, err := json.Marshal(userRow{PartitionKey: emailPartition, RowKey: email, UserID: u.ID})
	if err != nil {
		return err
	}
	if _, err := s.table.AddEntity(ctx, index, nil); err != nil {
		var respErr *azcore.ResponseError
		if errors.As(err, &respErr) && respErr.StatusCode == 409 {
			return domain.ErrUserExists
		}
		return err
	}
	row, err := json.Marshal(userRow{
		PartitionKey:      userPartition,
		RowKey:            u.ID,
		Name:              u.Name,
		Email:             email,
		EmailVerification: u.EmailVerification,
		PasswordHash:      base64.StdEncoding.EncodeToString(u.PasswordHash),
		CreatedAt:         u.CreatedAt.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return err
	}
	if _, err := s.table.AddEntity(ctx, row, nil); err != nil {
		// Release the address so the caller can retry the sign up.
		_, _ = s.table.DeleteEntity(ctx, emailPartition, email, nil)
		return err
	}
	return nil
}

// GetUser loads an account by id.
func (s *UserTable) GetUser(ctx context.Context, id string) (domain.User, error) {
	resp, err := s.table.GetEntity(ctx, userPartition, id, nil)
	if err != nil {
		return domain.User{}, mapResponseError(err)
	}
	return decodeUserRow(resp.Value)
}

// GetUserByEmail resolves the email index and loads the account.
func (s *UserTable) GetUserByEmail(ctx context.Context, email string) (domain.User, error) {
	resp, err := s.table.GetEntity(ctx, emailPartition, normaliseEmail(email), nil)
	if err != nil {
		return domain.User{}, mapResponseError(err)
	}
	var index userRow
	if err := json.Unmarshal(resp.Value, &index); err != nil {
		return domain.User{}, err
	}
	return s.GetUser(ctx, index.UserID)
}
