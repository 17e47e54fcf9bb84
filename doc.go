// Package sensorpipe is a single-process engine for ingesting raw sensor
// telemetry, decoding it into canonical records, and routing those records
// through configurable pipelines of pluggable stages.
//
// # Architecture
//
// A pipeline is an ordered graph of stages connected by bounded queues:
//
//	Reader -> Decoder -> Processors... -> {Analyzers, Visualizers} -> Writer
//
// Stages are discovered and instantiated through a plugin registry keyed by
// (kind, name). The pipeline executor owns the queue graph, drives the
// stages either concurrently (one goroutine per stage) or sequentially
// (one driving loop), and guarantees clean startup, backpressure, and
// shutdown semantics. The engine layer composes one or more executors with
// a system monitor and an export buffer.
//
// # Package layout
//
//   - data: the canonical SensorData record
//   - stage: capability contracts every plugin satisfies
//   - plugin: the registry mapping (kind, name) to factories
//   - pipeline: the executor (queue graph, workers, sentinel protocol)
//   - engine: multi-pipeline orchestration, monitoring, export
//   - config: YAML configuration loading and validation
//   - metric: Prometheus metrics registry and scrape endpoint
//   - monitor: host resource sampling
//   - reader, decoder, processor, analyzer, visualizer, writer, exporter,
//     configurator: builtin stage implementations
//   - builtin: registration of all builtin stages
//
// sensorpipe is deliberately single-host and single-process: there is no
// network execution layer, no cross-process messaging, and no GUI. External
// consumers poll the status and metrics surfaces; the core never pushes
// data outward.
package sensorpipe
