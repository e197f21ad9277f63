// Package validation turns automation specs into execution plans.
//
// The pipeline runs four stages in order: target resolution, service
// validation, policy validation, and an optional live preflight. Apart
// from unrecoverable target resolution, stages do not short-circuit;
// every error and warning found across all stages is aggregated into a
// single Result so a caller sees the full picture in one pass. A plan
// is only produced when no stage reported an error.
package validation
