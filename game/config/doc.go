// Package config loads, caches and watches level files.
//
// Levels live as JSON or YAML files in a single directory. The file name
// (without extension) is the level id used for session creation. Every file
// is checked twice on load: first against an embedded JSON Schema, which
// catches unknown keys and malformed rows, then by engine.ValidateLevel,
// which checks the grid, start tile, goals and reachability.
//
// Example level (YAML):
//
//	name: Corridor
//	width: 5
//	height: 1
//	layout:
//	  - "....G"
//	start: {x: 0, y: 0}
//	start_orientation: 1   # 0=N 1=E 2=S 3=W
//	optimal_commands: 1
//	allow: {move: true, repeat: true}
//
// Usage:
//
//	manager, err := config.NewManager("levels", logger)
//	level, err := manager.LoadLevel("corridor")
//	levels, err := manager.ListLevels()
//	go manager.Watch(ctx, func(id string) { ... })
//
// The default level is "tutorial" when that file exists, otherwise the
// first listed level, otherwise the built-in engine.DefaultLevel.
package config
