// Package tui provides the live orchestration dashboard.
//
// The dashboard is a read-only view over the durable stores. It polls
// the session store, merge queue, mailbox, and event store on a fixed
// interval and renders two tabs:
//   - Agents: every session with state, escalation level, unread mail,
//     and idle time, next to the merge queue
//   - Activity: a scrolling feed of recent stored events
//
// Nothing in the dashboard mutates state. Users can only navigate and
// quit with 'q' or Ctrl+C.
//
// Usage:
//
//	d := tui.New(sessions, queue, mail, events, tui.Config{
//	    RefreshRate: cfg.TUI.RefreshRate,
//	    StateDir:    stateDir,
//	})
//	if err := tui.NewProgram(d).Run(); err != nil {
//	    return err
//	}
package tui
