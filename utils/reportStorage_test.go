package utils

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReportObjectKey(t *testing.T) {
	now := time.Date(2026, 3, 4, 15, 0, 0, 0, time.UTC)

	key, err := ReportObjectKey("distributor_depletions", "March Report.XLSX", now)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(key, "reports/distributor_depletions/2026-03-04/"), key)
	assert.True(t, strings.HasSuffix(key, ".xlsx"), key)

	key, err = ReportObjectKey("api:depletions", "x.csv", now)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(key, "reports/api_depletions/"), key)

	key, err = ReportObjectKey("", "x.csv", now)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(key, "reports/unsorted/"), key)

	_, err = ReportObjectKey("x", "notes.pdf", now)
	assert.True(t, errors.Is(err, ErrUnsupportedReportType))
}

func TestBuildObjectAccessURL(t *testing.T) {
	t.Setenv("STORAGE_ACCESS_BASE_URL", "")
	t.Setenv("GCS_BUCKET", "")
	assert.Equal(t, "reports/a.csv", BuildObjectAccessURL("reports/a.csv"))

	t.Setenv("GCS_BUCKET", "depletion-reports")
	assert.Equal(t, "gs://depletion-reports/reports/a.csv", BuildObjectAccessURL("reports/a.csv"))

	t.Setenv("STORAGE_ACCESS_BASE_URL", "https://cdn.example.com/files/")
	assert.Equal(t, "https://cdn.example.com/files/reports/a.csv", BuildObjectAccessURL("reports/a.csv"))

	t.Setenv("STORAGE_ACCESS_BASE_URL", "https://files.example.com/get?key={objectKey}")
	assert.Equal(t, "https://files.example.com/get?key=reports%2Fa.csv", BuildObjectAccessURL("reports/a.csv"))
}

func TestSignReportUploadRequiresBucket(t *testing.T) {
	t.Setenv("GCS_BUCKET", "")
	_, err := SignReportUpload(t.Context(), "reports/a.csv", "text/csv", time.Minute)
	assert.Error(t, err)
}
