//go:build !gcp

package audit

import (
	"context"
	"errors"
)

// ErrGCSNotCompiled is returned when a gs:// evidence_bucket_uri is
// configured but the binary wasn't built with -tags gcp.
var ErrGCSNotCompiled = errors.New("audit: gs:// evidence_bucket_uri requires building with -tags gcp")

func newGCSUploader(_ context.Context, _, _ string) (Uploader, error) {
	return nil, ErrGCSNotCompiled
}
