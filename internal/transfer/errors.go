package transfer

import "fmt"

// DownloadError reports a failure on the download leg of a transfer.
type DownloadError struct {
	MediaURL string
	Cause    error
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("download failed for %s: %v", e.MediaURL, e.Cause)
}

func (e *DownloadError) Unwrap() error { return e.Cause }

// UploadError reports a failure on the upload leg of a transfer.
type UploadError struct {
	Key   string
	Cause error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload failed for %s: %v", e.Key, e.Cause)
}

func (e *UploadError) Unwrap() error { return e.Cause }
