// Package observe provides the observability bootstrap for resilience
// deployments: OpenTelemetry tracer and meter setup with pluggable
// exporters, a structured JSON logger, and a Collector that turns the event
// streams of resilience components into metrics and log lines.
//
//	obs, err := observe.NewObserver(ctx, observe.Config{
//	    ServiceName: "payments-gateway",
//	    Metrics:     observe.MetricsConfig{Enabled: true, Exporter: "prometheus"},
//	    Logging:     observe.LoggingConfig{Enabled: true, Level: "info"},
//	})
//	if err != nil {
//	    return err
//	}
//	defer obs.Shutdown(ctx)
//
//	collector, err := observe.NewCollector(obs.Meter(), obs.Logger())
//	if err != nil {
//	    return err
//	}
//	defer collector.Attach(breaker)()
//	defer collector.Attach(bulkhead)()
package observe
