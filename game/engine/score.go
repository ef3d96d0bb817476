package engine

// Stars awards the level rating for a finished run: 0 when the goal was not
// reached, 3 at or under the optimal command count, 2 within two commands
// of optimal, otherwise 1.
func Stars(reachedGoal bool, commandsUsed, optimalCommands int) int {
	if !reachedGoal {
		return 0
	}
	switch {
	case commandsUsed <= optimalCommands:
		return 3
	case commandsUsed <= optimalCommands+2:
		return 2
	default:
		return 1
	}
}
