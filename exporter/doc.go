// Package exporter provides builtin exporters that materialize a batch of
// retained records into CSV or JSON artifacts.
package exporter
