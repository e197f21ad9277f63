// Package mqtt provides the control-plane event bus over an MQTT broker.
//
// The Client wraps paho.mqtt.golang with connection management, a last
// will announcing ungraceful exits, and subscription tracking so filters
// survive reconnects. The Bus sits above it and translates domain events
// into JSON payloads on the ember/ topic scheme: execution results,
// canary transitions, rollbacks, kill-switch changes and drift reports.
//
// The bus is fire and forget. Publish failures are logged and dropped so
// a broker outage never blocks or fails an execution.
package mqtt
