package observe

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jonwraymond/meshguard/resilience"
)

// Traced wraps a protected operation in a span named after the dependency.
// Errors from the operation are recorded on the span and propagated
// unchanged. The wrapper composes with the resilience layers like any other
// operation, typically innermost:
//
//	err := exec.Execute(ctx, observe.Traced(tracer, "orders-db", callOrdersDB))
func Traced(tracer trace.Tracer, name string, op resilience.Operation) resilience.Operation {
	return func(ctx context.Context) error {
		ctx, span := tracer.Start(ctx, "resilience.call."+name,
			trace.WithAttributes(attribute.String("dependency", name)),
		)
		defer span.End()

		err := op(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		return err
	}
}
