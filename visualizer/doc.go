// Package visualizer provides builtin visualizers: rate-limited console
// output and an HTML line chart rendered with go-echarts on teardown.
// Visualizers must never block the data path.
package visualizer
