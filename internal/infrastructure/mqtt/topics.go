package mqtt

import "fmt"

// TopicPrefix is the root of every deskpilot topic.
const TopicPrefix = "deskpilot"

// Run event names, the last segment of a run topic.
const (
	EventStarted  = "started"
	EventResult   = "result"
	EventFinished = "finished"

	// EventRejected is published when a remote execute request is invalid.
	EventRejected = "rejected"
)

// Topics builds deskpilot topic names. The hierarchy is
//
//	deskpilot/{agent}/status                      retained online/offline
//	deskpilot/{agent}/runs/{run_id}/{event}       started, result, finished
//	deskpilot/{agent}/control/execute             remote sequence requests
//	deskpilot/{agent}/control/cancel              remote cancellation
//	deskpilot/{agent}/watchers/{name}             watcher triggers
type Topics struct{}

// AgentStatus returns the retained status topic for an agent.
func (Topics) AgentStatus(agentID string) string {
	return fmt.Sprintf("%s/%s/status", TopicPrefix, agentID)
}

// AllAgentStatus matches every agent's status topic.
func (Topics) AllAgentStatus() string {
	return TopicPrefix + "/+/status"
}

// RunEvent returns the topic for one event of one run.
func (Topics) RunEvent(agentID, runID, event string) string {
	return fmt.Sprintf("%s/%s/runs/%s/%s", TopicPrefix, agentID, runID, event)
}

// AllRunEvents matches every run event published by an agent.
func (Topics) AllRunEvents(agentID string) string {
	return fmt.Sprintf("%s/%s/runs/#", TopicPrefix, agentID)
}

// WatcherEvent returns the topic a named watcher's triggers are published on.
func (Topics) WatcherEvent(agentID, name string) string {
	return fmt.Sprintf("%s/%s/watchers/%s", TopicPrefix, agentID, name)
}

// ControlExecute is where remote callers post sequences for an agent.
func (Topics) ControlExecute(agentID string) string {
	return fmt.Sprintf("%s/%s/control/execute", TopicPrefix, agentID)
}

// ControlCancel is where remote callers post run cancellations.
func (Topics) ControlCancel(agentID string) string {
	return fmt.Sprintf("%s/%s/control/cancel", TopicPrefix, agentID)
}

// All matches every deskpilot topic.
func (Topics) All() string {
	return TopicPrefix + "/#"
}
