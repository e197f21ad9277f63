// Package influxdb records control-plane metrics in InfluxDB v2.
//
// The Client manages the connection and the batched, non-blocking write
// path. The Recorder implements execution.Observer and translates run
// results and canary health samples into points. Writes never block or
// fail an execution; async write errors surface through SetOnError.
package influxdb
