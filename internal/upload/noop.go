package upload

import (
	"context"
	"fmt"
)

// NoopUploader stands in when no bucket is configured. Uploads fail
// loudly rather than silently dropping the file.
type NoopUploader struct{}

// NewNoop creates the disabled uploader.
func NewNoop() *NoopUploader { return &NoopUploader{} }

// Enabled reports false.
func (*NoopUploader) Enabled() bool { return false }

// Upload always fails.
func (*NoopUploader) Upload(context.Context, string) (string, error) {
	return "", fmt.Errorf("upload disabled: no bucket configured")
}

var _ Uploader = (*NoopUploader)(nil)
