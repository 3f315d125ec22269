package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/mmdatafocus/depletions_backend/config"
)

// ObjectOpener reads an uploaded report by object key.
type ObjectOpener func(ctx context.Context, objectKey string) (io.ReadCloser, error)

// WithObjectOpener replaces the GCS reader.
func (s *Service) WithObjectOpener(open ObjectOpener) *Service {
	cp := *s
	cp.openObject = open
	return &cp
}

// IngestObject decodes a report stored in the report bucket and ingests it.
func (s *Service) IngestObject(ctx context.Context, objectKey string, sourceHint string) (*Summary, error) {
	objectKey = strings.TrimPrefix(strings.TrimSpace(objectKey), "/")
	if objectKey == "" {
		return nil, errors.New("object key is required")
	}
	rc, err := s.openObject(ctx, objectKey)
	if err != nil {
		config.LogError(s.logger, "ingest", "IngestObject", "open object", objectKey, err)
		return nil, err
	}
	defer rc.Close()

	records, err := Decode(objectKey, rc)
	if err != nil {
		return nil, err
	}
	return s.IngestBatch(ctx, records, sourceHint)
}

func openGCSObject(ctx context.Context, objectKey string) (io.ReadCloser, error) {
	bucket := config.ReportBucket()
	if bucket == "" {
		return nil, errors.New("GCS_BUCKET is not configured")
	}
	client, err := config.NewStorageClient(ctx)
	if err != nil {
		return nil, err
	}
	r, err := client.Bucket(bucket).Object(objectKey).NewReader(ctx)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("open gs://%s/%s: %w", bucket, objectKey, err)
	}
	return &objectReader{Reader: r, close: client.Close}, nil
}

// objectReader closes the storage client together with the object reader.
type objectReader struct {
	io.Reader
	close func() error
}

func (o *objectReader) Close() error {
	if c, ok := o.Reader.(io.Closer); ok {
		_ = c.Close()
	}
	return o.close()
}
