// Package session keeps the live sessions of the server.
//
// A session owns one level, one engine (grid world, robot and command
// history) and one interpreter. Sessions are independent: a run in one
// session never touches another session's robot.
//
// Session IDs are 4 hex characters from crypto/rand and are matched
// case-insensitively.
//
// Persistence:
//
// FilePersistence writes one JSON file per session holding the level id,
// the engine state and the last finished run. Runs in flight are not
// persisted; a restored session starts idle with the robot where the last
// save left it.
//
// Usage:
//
//	persistence, _ := session.NewFilePersistence("sessions", levels, opts)
//	manager := session.NewManagerWithPersistence(persistence, opts)
//	manager.LoadPersistedSessions()
//
//	sess, err := manager.Create("", level)
//	sess, err = manager.Get(sess.ID)
//
// CleanupExpiredSessions drops idle sessions that have not been touched
// within a given age. Sessions with an active run are kept.
package session
