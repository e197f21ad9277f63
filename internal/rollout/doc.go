// Package rollout decides whether new spec versions keep rolling
// forward, get rolled back, or stop executing entirely.
//
// The canary manager tracks partial rollouts gated by live health
// metrics, the rollback manager watches a sliding-window error budget
// and redeploys the last known good version on breach, and the kill
// switch pauses execution at global, home or spec scope. All three are
// fed by execution engine results.
package rollout
