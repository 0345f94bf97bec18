// Package httpserver runs an http.Handler with graceful shutdown and
// provides liveness and readiness handlers.
//
// A Server binds its listener in Run and serves until the context is
// cancelled, then drains in-flight requests within the shutdown timeout.
// Start adapts Run for errgroup:
//
//	srv := httpserver.NewFromConfig(cfg, httpserver.WithLogger(log))
//	g.Go(srv.Start(ctx, router))
//
// Readiness checks are named so a failing probe reports which dependency
// is down:
//
//	r.Get("/health/ready", httpserver.ReadinessHandler(log, 2*time.Second,
//		httpserver.Check{Name: "postgres", Fn: pg.Healthcheck(pool)},
//	))
package httpserver
