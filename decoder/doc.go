// Package decoder provides builtin decoders turning raw reader chunks into
// canonical records: delimiter-separated text and the WitMotion binary IMU
// framing. Both tolerate chunk boundaries that split a line or packet by
// buffering the fragment until the next chunk arrives.
package decoder
