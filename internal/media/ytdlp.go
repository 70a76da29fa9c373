package media

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"
)

const resolveTimeout = 2 * time.Minute

// Resolver uses the local yt-dlp binary to turn a watch link into a direct
// download URL.
type Resolver struct {
	binaryPath  string
	cookiesFile string
	logger      *zap.Logger
}

// NewResolver creates a resolver around the given yt-dlp binary. cookiesFile
// may be empty.
func NewResolver(binaryPath, cookiesFile string, logger *zap.Logger) *Resolver {
	return &Resolver{
		binaryPath:  binaryPath,
		cookiesFile: cookiesFile,
		logger:      logger,
	}
}

// ResolveURL fetches the direct media link for watchURL using --get-url.
func (r *Resolver) ResolveURL(ctx context.Context, watchURL string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, resolveTimeout)
	defer cancel()

	args := []string{"-f", "b", "--get-url", "--no-warnings"}
	if r.cookiesFile != "" {
		args = append(args, "--cookies", r.cookiesFile)
	}
	args = append(args, watchURL)

	cmd := exec.CommandContext(ctx, r.binaryPath, args...)

	var out bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("yt-dlp failed: %w, stderr: %s", err, stderr.String())
	}

	urlStr := strings.TrimSpace(out.String())
	if urlStr == "" {
		return "", fmt.Errorf("yt-dlp returned empty URL for %s", watchURL)
	}

	// yt-dlp may print separate video and audio URLs, take the first one
	if i := strings.IndexByte(urlStr, '\n'); i >= 0 {
		urlStr = urlStr[:i]
	}

	r.logger.Debug("Resolved media URL", zap.String("watch_url", watchURL))
	return urlStr, nil
}
