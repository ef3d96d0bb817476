// Package api provides the HTTP REST surface of the blockbot server.
//
// Endpoints:
//
// Sessions:
//   - POST   /api/sessions              create a session ({"level_id": "..."})
//   - GET    /api/sessions              list sessions (?sort=created|accessed&order=asc|desc&limit=N&level=ID)
//   - GET    /api/sessions/{id}         session details, state and last run
//   - DELETE /api/sessions/{id}         stop any run and delete the session
//
// Runs:
//   - POST /api/sessions/{id}/run       run a program
//   - GET  /api/sessions/{id}/run       interpreter status and current command
//   - POST /api/sessions/{id}/pause     pause before the next command
//   - POST /api/sessions/{id}/resume    continue a paused run
//   - POST /api/sessions/{id}/stop      cancel the run, robot stays in place
//
// A run request carries either the JSON tree or the text form:
//
//	{"source": "repeat 4 { forward } left", "reset": true, "wait": true}
//	{"program": [{"type": "repeat", "count": 4, "body": [{"type": "move_forward"}]}]}
//
// Without "wait" the run starts in the background and the call answers 202;
// progress is streamed on /ws. "step_delay_ms" overrides the server pacing.
//
// Robot:
//   - GET  /api/sessions/{id}/state     game state
//   - POST /api/sessions/{id}/step      one command ({"command": "forward"})
//   - POST /api/sessions/{id}/reset     back to the start pose
//   - GET  /api/sessions/{id}/hint      shortest route to the nearest goal
//   - GET  /api/sessions/{id}/history   paginated command history
//
// Levels:
//   - GET  /api/levels, POST /api/levels, GET /api/levels/{id}
//   - GET  /api/levels/{id}/stats       aggregated run results
//   - GET  /api/levels/{id}/runs        recent runs (?limit=N)
//
// Errors are JSON objects {"error": "..."}. Unknown sessions and levels
// answer 404, invalid programs, commands and levels 400, and requests that
// conflict with the interpreter state (run already active, nothing to
// pause, robot busy) 409.
package api
