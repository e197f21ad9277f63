package mqtt

import (
	"fmt"
	"strings"
)

// Topics builds the ember/ topic scheme.
//
// Layout:
//
//	ember/system/status                          retained control-plane status
//	ember/execution/{home}/{spec}/result         per-run execution results
//	ember/rollout/{home}/{spec}/canary           canary start/promote/abandon
//	ember/rollout/{home}/{spec}/rollback         rollback events
//	ember/killswitch/{scope}                     pause and resume changes
//	ember/drift/{home}                           capability drift reports
//	ember/command/run                            inbound run requests
//
// Home and spec identifiers are sanitized so they cannot inject topic
// separators or wildcards.
type Topics struct{}

const topicPrefix = "ember"

// SystemStatus is the retained online/offline status topic.
func (Topics) SystemStatus() string {
	return topicPrefix + "/system/status"
}

// ExecutionResult is the topic for one spec's execution results.
func (Topics) ExecutionResult(homeID, specID string) string {
	return fmt.Sprintf("%s/execution/%s/%s/result",
		topicPrefix, sanitize(homeID), sanitize(specID))
}

// AllExecutionResults is the wildcard filter for every execution result.
func (Topics) AllExecutionResults() string {
	return topicPrefix + "/execution/+/+/result"
}

// CanaryEvent is the topic for canary lifecycle transitions.
func (Topics) CanaryEvent(homeID, specID string) string {
	return fmt.Sprintf("%s/rollout/%s/%s/canary",
		topicPrefix, sanitize(homeID), sanitize(specID))
}

// RollbackEvent is the topic for rollback notifications.
func (Topics) RollbackEvent(homeID, specID string) string {
	return fmt.Sprintf("%s/rollout/%s/%s/rollback",
		topicPrefix, sanitize(homeID), sanitize(specID))
}

// AllRolloutEvents is the wildcard filter for canary and rollback events.
func (Topics) AllRolloutEvents() string {
	return topicPrefix + "/rollout/+/+/+"
}

// KillSwitchEvent is the topic for pause state changes at a scope.
func (Topics) KillSwitchEvent(scope string) string {
	return fmt.Sprintf("%s/killswitch/%s", topicPrefix, sanitize(scope))
}

// CommandRun is the inbound topic carrying automation specs to validate
// and execute immediately.
func (Topics) CommandRun() string {
	return topicPrefix + "/command/run"
}

// DriftReport is the topic for capability drift reports.
func (Topics) DriftReport(homeID string) string {
	return fmt.Sprintf("%s/drift/%s", topicPrefix, sanitize(homeID))
}

// sanitize strips MQTT structural characters from an identifier segment.
// Empty segments become "unknown" so topics stay well formed.
func sanitize(segment string) string {
	replacer := strings.NewReplacer("/", "_", "+", "_", "#", "_", " ", "_")
	cleaned := replacer.Replace(strings.TrimSpace(segment))
	if cleaned == "" {
		return "unknown"
	}
	return cleaned
}

// ParseExecutionTopic extracts home and spec identifiers from an
// execution result topic. Reports false for any other topic shape.
func ParseExecutionTopic(topic string) (homeID, specID string, ok bool) {
	parts := strings.Split(topic, "/")
	if len(parts) != 5 || parts[0] != topicPrefix || parts[1] != "execution" || parts[4] != "result" {
		return "", "", false
	}
	return parts[2], parts[3], true
}
