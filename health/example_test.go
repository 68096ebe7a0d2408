package health_test

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonwraymond/storyjobs/health"
)

func ExampleThresholds_Classify() {
	t := health.DefaultThresholds()

	fmt.Println(t.Classify(2, 800*time.Millisecond))
	fmt.Println(t.Classify(12, 800*time.Millisecond))
	fmt.Println(t.Classify(2, 25*time.Second))
	// Output:
	// healthy
	// warning
	// critical
}

func ExampleAggregator_CheckAll() {
	agg := health.NewAggregator()
	agg.Register(health.NewCheckerFunc("remote", func(ctx context.Context) health.Result {
		return health.Warning("generate-story error rate 12.0%")
	}))
	agg.Register(health.NewCheckerFunc("queue", func(ctx context.Context) health.Result {
		return health.Healthy("running")
	}))

	results := agg.CheckAll(context.Background())

	fmt.Println("checkers:", agg.CheckerNames())
	fmt.Println("overall:", health.OverallStatus(results))
	// Output:
	// checkers: [remote queue]
	// overall: warning
}

func ExampleAggregator_Check() {
	agg := health.NewAggregator()
	agg.Register(health.NewCheckerFunc("queue", func(ctx context.Context) health.Result {
		return health.Healthy("running")
	}))

	result, _ := agg.Check(context.Background(), "queue")
	fmt.Println(result.Status, result.Message)

	_, err := agg.Check(context.Background(), "unknown")
	fmt.Println(errors.Is(err, health.ErrCheckerNotFound))
	// Output:
	// healthy running
	// true
}
