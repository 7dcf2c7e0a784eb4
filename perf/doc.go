// Package perf runs forgy load tests from Go code.
//
// A test ramps virtual users from zero to a peak, holds the peak and ramps
// back down, each VU sending the same request in a closed loop:
//
//	cfg := perf.DefaultConfig()
//	cfg.URL = "http://localhost:8080/health"
//	cfg.VUs = 50
//	cfg.RampUp, cfg.Hold, cfg.RampDown = 10*time.Second, time.Minute, 10*time.Second
//
//	result, err := perf.Run(ctx, cfg)
//	if err != nil {
//	    return err
//	}
//	fmt.Printf("%d requests, p95 %.1fms\n", result.Metrics.TotalRequests, result.Metrics.Latency.P95Ms)
//
// # Live Metrics
//
// Set Export to push metrics while the test runs:
//
//	cfg.Export.Kind = perf.ExportRemoteWrite
//	cfg.Export.URL = "http://prometheus:9090/api/v1/write"
//	cfg.Export.Label = "checkout-smoke"
//
// Cancelling ctx stops the test early; Run still returns the partial result
// with Interrupted set.
package perf
