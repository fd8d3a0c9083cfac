/*
Package race decides which one of many concurrent callers wins a named race.

	coord := race.NewCoordinator(st)
	won, err := coord.Race(ctx, "checkout")
	if err != nil {
		// the backend broke, this is NOT a lost race
	}
	if won {
		defer coord.EndRaceAsync(ctx, "checkout")
		// ...
	}

A Coordinator holds no race state of its own: everything lives in the
store.RaceStore it is given, addressed by race identifier. Racers may thus
run in separate processes, each with its own Coordinator, as long as their
stores share the same backend.

Once won, a race stays won for every later caller until it is reset with
EndRace or EndRaceAsync.
*/
package race
