// Package reader provides builtin data source stages: chunked file reads
// for replaying recorded captures, and serial port reads for live sensors.
package reader
