// Package config provides configuration loading for Ember Core.
//
// Configuration is loaded from a YAML file with environment variable
// overrides for secrets (platform token, MQTT credentials, InfluxDB token).
//
// # Loading Order
//
//  1. Hardcoded defaults
//  2. YAML file values
//  3. Environment variables (EMBER_ prefix)
//
// # Usage
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// Validation runs automatically on load; a missing platform token or
// an invalid breaker threshold fails fast at startup rather than at
// first use.
package config
