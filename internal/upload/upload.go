// Package upload publishes a rendered reel and returns a URL that the
// Telegram and webhook deliveries can link to.
package upload

import (
	"context"
)

// Uploader makes a local file reachable over HTTP.
type Uploader interface {
	Upload(ctx context.Context, localPath string) (string, error)
}
