package race

import (
	"sync"

	"go.opentelemetry.io/otel/metric"

	"github.com/ctfer-io/race-manager/global"
)

var (
	racesCounter     metric.Int64Counter
	racesCounterOnce sync.Once

	resetsCounter     metric.Int64Counter
	resetsCounterOnce sync.Once
)

// RacesCounter counts the calls to Race, by outcome (won, lost, failed).
func RacesCounter() metric.Int64Counter {
	racesCounterOnce.Do(func() {
		cnt, err := global.Meter.Int64Counter("races",
			metric.WithDescription("The number of race attempts, by outcome"),
		)
		if err != nil {
			panic(err)
		}
		racesCounter = cnt
	})
	return racesCounter
}

// ResetsCounter counts the races reset.
func ResetsCounter() metric.Int64Counter {
	resetsCounterOnce.Do(func() {
		cnt, err := global.Meter.Int64Counter("race.resets",
			metric.WithDescription("The number of races reset"),
		)
		if err != nil {
			panic(err)
		}
		resetsCounter = cnt
	})
	return resetsCounter
}
