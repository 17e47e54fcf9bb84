// Package engine manages the set of configured pipelines as one unit.
//
// The engine owns the plugin registry handed to it, builds one
// pipeline.Executor per enabled pipeline in the configuration, runs
// configurators once at setup time (outside the data flow), and drives the
// executors' lifecycle together with the system monitor. Each pipeline gets
// a bounded retention buffer fed from the executor's record tap; Export
// drains that buffer through a configured exporter on demand.
//
// Preflight validation resolves every configured stage type against the
// registry before any executor is built, so a typo in a mandatory stage
// fails early with a full report instead of halfway through setup.
package engine
