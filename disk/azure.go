package disk

import (
	"context"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/sas"
)

// AzureDisk stores objects as block blobs in an Azure Storage container.
// Temporary URLs are blob SAS URLs signed with the account's shared key.
type AzureDisk struct {
	container *container.Client
	prefix    string
}

// NewAzureDiskFromConfig creates the container client using shared key
// credentials. ServiceURL defaults to the public blob endpoint of Account.
func NewAzureDiskFromConfig(cfg Config) (*AzureDisk, error) {
	if cfg.Account == "" || cfg.AccountKey == "" || cfg.Container == "" {
		return nil, fmt.Errorf("azure disk: account, account_key and container are required")
	}
	cred, err := azblob.NewSharedKeyCredential(cfg.Account, cfg.AccountKey)
	if err != nil {
		return nil, fmt.Errorf("azure disk: credential: %w", err)
	}
	serviceURL := cfg.ServiceURL
	if serviceURL == "" {
		serviceURL = fmt.Sprintf("https://%s.blob.core.windows.net/", cfg.Account)
	}
	client, err := azblob.NewClientWithSharedKeyCredential(serviceURL, cred, &azblob.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Telemetry: policy.TelemetryOptions{ApplicationID: "artifacts"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("azure disk: client: %w", err)
	}
	return &AzureDisk{
		container: client.ServiceClient().NewContainerClient(cfg.Container),
		prefix:    cfg.Prefix,
	}, nil
}

func (a *AzureDisk) blobName(key string) string {
	if a.prefix == "" {
		return key
	}
	return path.Join(a.prefix, key)
}

func (a *AzureDisk) Put(ctx context.Context, key string, r io.Reader, contentType string) error {
	bc := a.container.NewBlockBlobClient(a.blobName(key))
	opts := &azblob.UploadStreamOptions{}
	if contentType != "" {
		opts.HTTPHeaders = &blob.HTTPHeaders{BlobContentType: &contentType}
	}
	if _, err := bc.UploadStream(ctx, r, opts); err != nil {
		return fmt.Errorf("azure disk: upload %q: %w", key, err)
	}
	return nil
}

func (a *AzureDisk) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	resp, err := a.container.NewBlobClient(a.blobName(key)).DownloadStream(ctx, nil)
	if bloberror.HasCode(err, bloberror.BlobNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("azure disk: download %q: %w", key, err)
	}
	return resp.Body, nil
}

func (a *AzureDisk) Exists(ctx context.Context, key string) (bool, error) {
	_, err := a.container.NewBlobClient(a.blobName(key)).GetProperties(ctx, nil)
	if bloberror.HasCode(err, bloberror.BlobNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("azure disk: properties %q: %w", key, err)
	}
	return true, nil
}

func (a *AzureDisk) Delete(ctx context.Context, key string) error {
	_, err := a.container.NewBlobClient(a.blobName(key)).Delete(ctx, nil)
	if err != nil && !bloberror.HasCode(err, bloberror.BlobNotFound) {
		return fmt.Errorf("azure disk: delete %q: %w", key, err)
	}
	return nil
}

func (a *AzureDisk) Stat(ctx context.Context, key string) (FileInfo, error) {
	props, err := a.container.NewBlobClient(a.blobName(key)).GetProperties(ctx, nil)
	if bloberror.HasCode(err, bloberror.BlobNotFound) {
		return FileInfo{}, fmt.Errorf("%w: %s", ErrObjectNotFound, key)
	}
	if err != nil {
		return FileInfo{}, fmt.Errorf("azure disk: properties %q: %w", key, err)
	}
	info := FileInfo{Key: key}
	if props.ContentLength != nil {
		info.Size = *props.ContentLength
	}
	if props.LastModified != nil {
		info.ModTime = *props.LastModified
	}
	if props.ContentType != nil {
		info.ContentType = *props.ContentType
	}
	return info, nil
}

func (a *AzureDisk) Features() Features {
	return Features{TemporaryURL: true}
}

func (a *AzureDisk) SignedURL(context.Context, string) (string, error) {
	return "", ErrUnsupported
}

// TemporaryURL returns a read-only blob SAS URL valid until expires.
func (a *AzureDisk) TemporaryURL(_ context.Context, key string, expires time.Time) (string, error) {
	u, err := a.container.NewBlobClient(a.blobName(key)).
		GetSASURL(sas.BlobPermissions{Read: true}, expires, nil)
	if err != nil {
		return "", fmt.Errorf("azure disk: sas %q: %w", key, err)
	}
	return u, nil
}
