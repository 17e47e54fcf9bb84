// Package analyzer provides builtin analyzers: windowed channel
// statistics and a z-score anomaly detector. Analyzers fold their
// findings back into the stream as records tagged with data.MetaAnalysis.
package analyzer
