package storage

import (
	"context"
	"fmt"
	"io"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
)

// AzureWeightSource downloads weight files from a blob container.
type AzureWeightSource struct {
	client    *azblob.Client
	container string
	cache     *downloadCache
}

func NewAzureWeightSource(accountName, accountKey, container, cacheDir string) (*AzureWeightSource, error) {
	credential, err := azblob.NewSharedKeyCredential(accountName, accountKey)
	if err != nil {
		return nil, fmt.Errorf("azure credential: %w", err)
	}

	client, err := azblob.NewClientWithSharedKeyCredential(
		fmt.Sprintf("https://%s.blob.core.windows.net", accountName),
		credential,
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("azure client: %w", err)
	}

	return &AzureWeightSource{
		client:    client,
		container: container,
		cache:     &downloadCache{dir: cacheDir},
	}, nil
}

func (s *AzureWeightSource) Name() string {
	return "azure"
}

func (s *AzureWeightSource) Resolve(ctx context.Context, name string) (string, error) {
	return s.cache.fetch(ctx, name, func(ctx context.Context, w io.Writer) error {
		resp, err := s.client.DownloadStream(ctx, s.container, name, nil)
		if err != nil {
			return fmt.Errorf("download %s/%s: %w", s.container, name, err)
		}
		body := resp.Body
		defer body.Close()

		if _, err := io.Copy(w, body); err != nil {
			return fmt.Errorf("read %s/%s: %w", s.container, name, err)
		}
		return nil
	})
}
