// Package writer provides builtin record sinks: an append-only CSV file
// and a SQLite database.
package writer
