package pipeline

import (
	stderrors "errors"
	"io"
	"time"

	"github.com/sensorpipe/sensorpipe/data"
)

// sequentialLoop is the single-loop scheduling mode: one driving goroutine
// pulls a chunk from the reader and walks it through the full stage graph
// before pulling the next. Suspension happens only at the reader's
// blocking read; pause likewise suspends at the reader boundary.
func (e *Executor) sequentialLoop(done <-chan struct{}) {
	ctx := doneContext{done}
	for {
		select {
		case <-done:
			return
		default:
		}
		if e.paused.Load() {
			time.Sleep(pauseInterval)
			continue
		}

		chunk, err := guard(func() ([]byte, error) { return e.reader.Read(ctx) })
		if stderrors.Is(err, io.EOF) {
			e.logger.Info("reader exhausted, finishing")
			return
		}
		if err != nil {
			select {
			case <-done:
				return
			default:
			}
			e.stageFailed("reader", err)
			time.Sleep(readerRecovery)
			continue
		}
		if len(chunk) == 0 {
			continue
		}
		e.countStage("reader", &e.metrics.read)

		recs, err := guard(func() ([]*data.SensorData, error) { return e.decoder.Decode(chunk) })
		if e.stageFailed("decoder", err) {
			continue
		}
		for _, rec := range recs {
			if rec == nil {
				continue
			}
			rec.Normalize()
			e.countStage("decoder", &e.metrics.decode)
			e.walkStages(rec)
		}
	}
}

// walkStages pushes one decoded record through processors, analyzers,
// visualizers and the writer, applying the same per-item error policy as
// the concurrent workers.
func (e *Executor) walkStages(rec *data.SensorData) {
	items := []*data.SensorData{rec}

	for i, p := range e.processors {
		name := workerName("processor", i)
		var next []*data.SensorData
		for _, item := range items {
			results, err := guard(func() ([]*data.SensorData, error) { return p.Process(item) })
			if e.stageFailed(name, err) {
				continue
			}
			e.countStage(name, &e.metrics.process)
			for _, res := range results {
				if res != nil {
					next = append(next, res)
				}
			}
		}
		items = next
	}

	var analyzed []*data.SensorData
	for _, item := range items {
		for i, a := range e.analyzers {
			name := workerName("analyzer", i)
			results, err := guard(func() ([]*data.SensorData, error) { return a.Analyze(item.Clone()) })
			if e.stageFailed(name, err) {
				continue
			}
			e.countStage(name, &e.metrics.analyze)
			for _, res := range results {
				if res != nil {
					analyzed = append(analyzed, res)
				}
			}
		}
	}
	items = append(items, analyzed...)

	for _, item := range items {
		if e.tap != nil {
			e.tap(item.Clone())
		}
		for i, v := range e.visualizers {
			name := workerName("visualizer", i)
			_, err := guard(func() (struct{}, error) { return struct{}{}, v.Visualize(item.Clone()) })
			if e.stageFailed(name, err) {
				continue
			}
			e.countStage(name, &e.metrics.visualize)
		}
		if e.writer != nil {
			_, err := guard(func() (int, error) { return e.writer.Write(item) })
			if e.stageFailed("writer", err) {
				continue
			}
			e.countStage("writer", &e.metrics.write)
		}
	}
}
