package interpreter

import (
	"time"

	"github.com/wricardo/mcp-training/blockbot/game/engine"
	"github.com/wricardo/mcp-training/blockbot/game/program"
)

// EventType names a run lifecycle event
type EventType string

const (
	EventRunStarted         EventType = "run_started"
	EventCommandExecuted    EventType = "command_executed"
	EventConditionEvaluated EventType = "condition_evaluated"
	EventRunPaused          EventType = "run_paused"
	EventRunResumed         EventType = "run_resumed"
	EventRunCompleted       EventType = "run_completed"
	EventRunFailed          EventType = "run_failed"
	EventRunCancelled       EventType = "run_cancelled"
)

// Event is delivered to observers synchronously from the run goroutine
type Event struct {
	Type        EventType          `json:"type"`
	RunID       string             `json:"run_id"`
	Status      Status             `json:"status"`
	Node        *program.Node      `json:"node,omitempty"`
	Path        []int              `json:"path,omitempty"`
	Step        int                `json:"step"`
	Position    engine.Position    `json:"position"`
	Orientation engine.Orientation `json:"orientation"`
	Condition   *bool              `json:"condition,omitempty"`
	Reason      string             `json:"reason,omitempty"`
	Result      *Result            `json:"result,omitempty"`
	Timestamp   time.Time          `json:"timestamp"`
}

// Observer receives run events. Implementations must not block for long;
// the run does not advance until OnEvent returns.
type Observer interface {
	OnEvent(Event)
}

// ObserverFunc adapts a function to Observer
type ObserverFunc func(Event)

// OnEvent calls f(e)
func (f ObserverFunc) OnEvent(e Event) { f(e) }

func terminalEvent(s Status) EventType {
	switch s {
	case StatusCompleted:
		return EventRunCompleted
	case StatusFailed:
		return EventRunFailed
	default:
		return EventRunCancelled
	}
}
