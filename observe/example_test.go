package observe_test

import (
	"context"
	"fmt"

	"github.com/jonwraymond/meshguard/observe"
)

func ExampleNewObserver() {
	obs, err := observe.NewObserver(context.Background(), observe.Config{
		ServiceName: "checkout",
		Version:     "1.4.2",
		Logging:     observe.LoggingConfig{Enabled: true, Level: "info"},
	})
	if err != nil {
		fmt.Println("setup failed:", err)
		return
	}
	defer func() { _ = obs.Shutdown(context.Background()) }()

	fmt.Println("observer ready:", obs.Tracer() != nil && obs.Meter() != nil)
	// Output:
	// observer ready: true
}

func ExampleParseLogLevel() {
	fmt.Println(observe.ParseLogLevel("warn"))
	fmt.Println(observe.ParseLogLevel("not-a-level"))
	// Output:
	// warn
	// info
}
