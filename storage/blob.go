package storage

import (
	"context"
	"errors"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/google/uuid"
)

// ErrImageNotFound is returned when deleting an image that does not exist.
var ErrImageNotFound = errors.New("image not found")

// ImageStore keeps task images in a blob container under the owner's prefix.
type ImageStore struct {
	client    *azblob.Client
	container string
}

// NewImageStore creates an ImageStore from the given connection string.
func NewImageStore(connStr, container string) (*ImageStore, error) {
	client, err := azblob.NewClientFromConnectionString(connStr, &azblob.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute * 3,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	})
	if err != nil {
		return nil, err
	}
	return &ImageStore{client: client, container: container}, nil
}

func blobName(ownerID, fileID string) string {
	return ownerID + "/" + fileID
}

// Upload stores the image and returns its opaque file id.
func (s *ImageStore) Upload(ctx context.Context, ownerID, contentType string, r io.Reader) (string, error) {
	fileID := uuid.NewString()
	_, err := s.client.UploadStream(ctx, s.container, blobName(ownerID, fileID), r, &azblob.UploadStreamOptions{
		HTTPHeaders: &blob.HTTPHeaders{BlobContentType: &contentType},
	})
	if err != nil {
		return "", err
	}
	return fileID, nil
}

// Delete removes the image.
func (s *ImageStore) Delete(ctx context.Context, ownerID, fileID string) error {
	_, err := s.client.DeleteBlob(ctx, s.container, blobName(ownerID, fileID), nil)
	if bloberror.HasCode(err, bloberror.BlobNotFound) {
		return ErrImageNotFound
	}
	return err
}

// URL derives the display URL of an image.
func (s *ImageStore) URL(ownerID, fileID string) string {
	base := strings.TrimSuffix(s.client.URL(), "/")
	return base + "/" + url.PathEscape(s.container) + "/" + url.PathEscape(ownerID) + "/" + url.PathEscape(fileID)
}
