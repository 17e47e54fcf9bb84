// Package stage defines the capability contracts that pipeline stages
// implement. Each stage kind has a small interface; optional lifecycle and
// status hooks are separate interfaces discovered by type assertion so that
// simple stages stay simple.
package stage

import (
	"context"

	"github.com/sensorpipe/sensorpipe/data"
)

// Kind identifies a stage's role in the pipeline graph.
type Kind int

const (
	KindReader Kind = iota
	KindDecoder
	KindProcessor
	KindAnalyzer
	KindVisualizer
	KindWriter
	KindExporter
	KindConfigurator
)

var kindNames = map[Kind]string{
	KindReader:       "reader",
	KindDecoder:      "decoder",
	KindProcessor:    "processor",
	KindAnalyzer:     "analyzer",
	KindVisualizer:   "visualizer",
	KindWriter:       "writer",
	KindExporter:     "exporter",
	KindConfigurator: "configurator",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// ParseKind maps a configuration string to a Kind.
func ParseKind(s string) (Kind, bool) {
	for k, name := range kindNames {
		if name == s {
			return k, true
		}
	}
	return Kind(-1), false
}

// Kinds returns all known kinds in graph order.
func Kinds() []Kind {
	return []Kind{
		KindReader, KindDecoder, KindProcessor, KindAnalyzer,
		KindVisualizer, KindWriter, KindExporter, KindConfigurator,
	}
}

// Reader acquires raw chunks from a source (file, serial port). Read blocks
// until a chunk is available, the source is exhausted (io.EOF), or ctx is
// done. Open must be callable again after Close so pipelines can restart.
type Reader interface {
	Open() error
	Read(ctx context.Context) ([]byte, error)
	Close() error
}

// Decoder turns raw chunks into canonical records. A chunk may contain
// zero, one, or many records; decoders buffer partial frames internally
// and return them on a later call.
type Decoder interface {
	Decode(raw []byte) ([]*data.SensorData, error)
}

// Processor transforms records. Returning an empty slice drops the record;
// returning multiple fans new records into the stream.
type Processor interface {
	Process(rec *data.SensorData) ([]*data.SensorData, error)
}

// Analyzer evaluates records and may emit derived records (tagged with
// data.MetaAnalysis) that re-enter the stream ahead of visualizers and the
// writer.
type Analyzer interface {
	Analyze(rec *data.SensorData) ([]*data.SensorData, error)
}

// Visualizer renders records for a human. Implementations must never block
// the data path; drop frames instead.
type Visualizer interface {
	Visualize(rec *data.SensorData) error
}

// Writer persists records. Write returns the number of records written so
// batching writers can report deferred flushes.
type Writer interface {
	Open() error
	Write(rec *data.SensorData) (int, error)
	Close() error
}

// Exporter materializes a batch of retained records into an artifact and
// returns its path or identifier.
type Exporter interface {
	Export(batch []*data.SensorData, dest string) (string, error)
}

// Configurator applies one-shot device or environment configuration before
// the data flow starts. Reset undoes it on shutdown where possible.
type Configurator interface {
	Configure() error
	Reset() error
}

// SetupTeardown is an optional hook pair. Setup runs at instantiation time
// (plugin.Registry.Create) and Teardown during pipeline stop, in stage
// order, best effort.
type SetupTeardown interface {
	Setup() error
	Teardown() error
}

// StatusReporter is an optional hook letting a stage contribute to the
// pipeline status surface.
type StatusReporter interface {
	Status() map[string]any
}

// Conforms reports whether v satisfies the contract for kind. The registry
// uses it to reject registrations structurally.
func Conforms(kind Kind, v any) bool {
	switch kind {
	case KindReader:
		_, ok := v.(Reader)
		return ok
	case KindDecoder:
		_, ok := v.(Decoder)
		return ok
	case KindProcessor:
		_, ok := v.(Processor)
		return ok
	case KindAnalyzer:
		_, ok := v.(Analyzer)
		return ok
	case KindVisualizer:
		_, ok := v.(Visualizer)
		return ok
	case KindWriter:
		_, ok := v.(Writer)
		return ok
	case KindExporter:
		_, ok := v.(Exporter)
		return ok
	case KindConfigurator:
		_, ok := v.(Configurator)
		return ok
	default:
		return false
	}
}
