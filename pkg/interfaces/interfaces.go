// Package interfaces defines the core abstractions shared between services,
// so that upstream access and persistence can be swapped in tests.
package interfaces

import (
	"context"
	"net/http"

	"vidproxy/pkg/types"
)

// HTTPClient abstracts HTTP operations for testability.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// PageFetcher obtains an embed page together with the session cookies
// needed to replay its media requests.
//
// Implementations:
//   - fetcher.Fetcher performs the two-step cookie warm-up directly
//   - flaresolverr.PageFetcher goes through a FlareSolverr instance
type PageFetcher interface {
	AcquirePage(ctx context.Context, videoID string) (*types.PageResult, error)
}

// DescriptorStore persists scraped descriptors.
type DescriptorStore interface {
	// SaveDescriptor inserts or replaces the descriptor and its cookies.
	SaveDescriptor(ctx context.Context, d *types.VideoDescriptor) error

	// GetDescriptor returns the stored descriptor or store.ErrNotFound.
	GetDescriptor(ctx context.Context, videoID string) (*types.VideoDescriptor, error)

	// ListDescriptors returns every stored descriptor, newest first.
	ListDescriptors(ctx context.Context) ([]*types.VideoDescriptor, error)

	// DeleteDescriptor removes the descriptor with its cookies and jobs.
	DeleteDescriptor(ctx context.Context, videoID string) error
}

// JobStore persists download job snapshots.
type JobStore interface {
	SaveJob(ctx context.Context, p types.DownloadProgress) error
	GetJob(ctx context.Context, jobID string) (*types.DownloadProgress, error)
	ListJobs(ctx context.Context, videoID string) ([]types.DownloadProgress, error)
}
