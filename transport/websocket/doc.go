// Package websocket streams run events and game state to browser clients.
//
// A central Hub owns every connection. Clients subscribe to one session with
// GET /ws?session=<id>; each connection gets a read and a write goroutine.
// The Hub implements service.EventBroadcaster, so the game service pushes
// interpreter events (run_started, command_executed, run_paused, ...) and
// state_update snapshots into it from the run goroutine.
//
// Frames are JSON:
//
//	{"session_id":"ab12","event":"command_executed","data":{...}}
//	{"session_id":"ab12","event":"state_update","game_state":{...}}
//
// Broadcasting never blocks: messages go through a buffered queue and are
// dropped when it is full. Clients that fall behind are disconnected.
//
// Usage:
//
//	hub := websocket.NewHub(logger)
//	go hub.Run(ctx)
//	svc := service.NewGameService(sessions, levels, service.WithBroadcaster(hub))
package websocket
