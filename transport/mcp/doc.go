// Package mcp exposes the blockbot REST API as Model Context Protocol tools.
//
// The Client is a thin proxy: every tool call becomes one HTTP request to a
// running blockbot server, and the JSON answer is rendered as text for the
// agent. The grid is drawn north row first with the robot shown as an arrow
// (^ > v <) pointing where it faces.
//
// Tools:
//   - create_session, list_sessions, get_session, game_state
//   - run_program (text or JSON blocks, waits for the result by default)
//   - run_status, pause_run, resume_run, stop_run
//   - step, reset_robot, hint, command_history
//   - list_levels, level_stats
//   - game_instructions, describe_cell
//
// Usage:
//
//	client := mcp.NewClient("http://localhost:8080")
//	server.ServeStdio(client.GetMCPServer())
package mcp
