// Package processor provides builtin record transforms: passthrough,
// a single-pole low-pass filter, and per-channel scaling.
package processor
