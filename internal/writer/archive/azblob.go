package archive

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
)

// AzureBlobConfig selects the storage account and container.
type AzureBlobConfig struct {
	AccountName string
	AccountKey  string
	Container   string
}

// AzureBlob uploads files as block blobs.
type AzureBlob struct {
	client    *azblob.Client
	container string
}

// NewAzureBlob builds a shared-key client for the account.
func NewAzureBlob(c AzureBlobConfig) (*AzureBlob, error) {
	if c.AccountName == "" || c.Container == "" {
		return nil, errors.New("archive azblob: account name and container required")
	}

	cred, err := azblob.NewSharedKeyCredential(c.AccountName, c.AccountKey)
	if err != nil {
		return nil, fmt.Errorf("archive azblob: shared key credential: %w", err)
	}

	serviceURL := fmt.Sprintf("https://%s.blob.core.windows.net/", c.AccountName)
	client, err := azblob.NewClientWithSharedKeyCredential(serviceURL, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("archive azblob: client: %w", err)
	}

	return &AzureBlob{client: client, container: c.Container}, nil
}

func (u *AzureBlob) Upload(ctx context.Context, localPath, key string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("archive azblob: open %s: %w", localPath, err)
	}
	defer f.Close()

	if _, err := u.client.UploadFile(ctx, u.container, key, f, nil); err != nil {
		return fmt.Errorf("archive azblob: upload %s/%s: %w", u.container, key, err)
	}
	return nil
}
