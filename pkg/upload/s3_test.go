package upload

import (
	"testing"

	"github.com/ethpandaops/triagoor/pkg/config"
	"github.com/stretchr/testify/assert"
)

func TestResolvePrefix(t *testing.T) {
	tests := []struct {
		name     string
		prefix   string
		baseName string
		want     string
	}{
		{
			name:     "default prefix",
			prefix:   "",
			baseName: "run-2026-08-26T10-00-00Z",
			want:     "triage/runs/run-2026-08-26T10-00-00Z",
		},
		{
			name:     "custom prefix",
			prefix:   "my-project/e2e",
			baseName: "run-abc123",
			want:     "my-project/e2e/run-abc123",
		},
		{
			name:     "trailing slash stripped",
			prefix:   "my-prefix/",
			baseName: "run123",
			want:     "my-prefix/run123",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u := &s3Uploader{
				cfg: &config.S3UploadConfig{Prefix: tt.prefix},
			}
			got := u.resolvePrefix(tt.baseName)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDetectContentType(t *testing.T) {
	tests := []struct {
		name       string
		path       string
		wantPrefix string
	}{
		{
			name:       "json file",
			path:       "triage/failure-summary.json",
			wantPrefix: "application/json",
		},
		{
			name:       "no extension",
			path:       "triage/Makefile",
			wantPrefix: "application/octet-stream",
		},
		{
			name:       "html report",
			path:       "triage/index.html",
			wantPrefix: "text/html",
		},
		{
			name:       "txt digest",
			path:       "triage/failure-digest.txt",
			wantPrefix: "text/plain",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := detectContentType(tt.path)
			assert.Contains(t, got, tt.wantPrefix)
		})
	}
}
