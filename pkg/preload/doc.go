// Package preload warms the request cache before the data is needed.
//
// Example usage:
//
//	bp := preload.NewBatchPreloader(apiClient, preload.DefaultConfig())
//	res := bp.Run(ctx, []preload.Target{
//		{Endpoint: "/incidents"},
//		{Endpoint: "/incidents", Params: url.Values{"status": {"open"}}},
//		{Endpoint: "/reports/summary"},
//	})
//	if err := res.Err(); err != nil {
//		log.Warn().Err(err).Msg("Some views will load cold")
//	}
//
// The batch preloader:
//   - Skips targets already in the cache
//   - Runs at most MaxConcurrency targets at once
//   - Bounds each target by Timeout
//   - Collects failures without stopping the batch
package preload
