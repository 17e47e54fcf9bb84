// Package configurator provides one-shot device configuration stages that
// run before a pipeline starts ingesting.
package configurator
