package config

import (
	"context"
	"os"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// NewStorageClient opens a Google Cloud Storage client.
// ADC is used unless GCS_CREDENTIALS_JSON is set.
func NewStorageClient(ctx context.Context) (*storage.Client, error) {
	if credJSON := os.Getenv("GCS_CREDENTIALS_JSON"); strings.TrimSpace(credJSON) != "" {
		return storage.NewClient(ctx, option.WithCredentialsJSON([]byte(credJSON)))
	}
	return storage.NewClient(ctx)
}

func ReportBucket() string {
	return strings.TrimSpace(os.Getenv("GCS_BUCKET"))
}
