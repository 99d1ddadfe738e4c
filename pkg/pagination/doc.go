// Package pagination provides parallel batch fetching for paginated upstream endpoints.
//
// The order API reports the page count in the X-WP-TotalPages header. The
// batch fetcher reads page 1 to learn the total, then spreads the remaining
// pages across a small worker pool.
//
// Example usage:
//
//	config := pagination.DefaultConfig()
//	fetcher := pagination.NewBatchFetcher(pageFetcher, config)
//	pages, err := fetcher.FetchAllPages(ctx, "orders")
//	for _, body := range pagination.Ordered(pages) {
//		// decode body
//	}
//
// The batch fetcher:
//   - Fetches first page to determine total pages
//   - Spawns worker pool (default 4 workers)
//   - Distributes remaining pages across workers
//   - Cancels outstanding pages after the first failure
//   - Returns partial data together with a *PageError
package pagination
