// Package service provides the business logic layer of the robot game.
//
// GameService ties together the pieces that the transports (REST, WebSocket
// and MCP) need:
//   - sessions (SessionManager), each with an engine and an interpreter
//   - levels (LevelManager)
//   - program runs: parse, validate against the level, start, pause,
//     resume, stop and wait
//   - scoring of finished runs with engine.Stars and recording them in a
//     RunStore
//   - live updates through an EventBroadcaster
//
// Runs are started on a service-owned context, so a run started by a short
// HTTP request keeps going after the request returns. Shutdown cancels
// every active run.
//
// Usage:
//
//	svc := service.NewGameService(sessions, levels,
//		service.WithRunStore(store),
//		service.WithBroadcaster(hub),
//		service.WithLogger(logger),
//	)
//
//	info, _ := svc.CreateSession(ctx, "tutorial")
//	run, err := svc.RunProgram(ctx, info.ID, service.RunRequest{
//		Source: "repeat 4 { forward } left repeat 4 { forward }",
//		Wait:   true,
//	})
//
// Every command a run executes is appended to the session's command
// history, the same history that manual Step calls write to.
package service
