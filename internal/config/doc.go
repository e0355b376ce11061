// Package config loads the lab control container configuration.
//
// Values are layered: built-in defaults, then an optional YAML file, then
// LCC_* environment variables. The result is validated before use. Watch
// re-reads the file when it changes so poll intervals can be tuned without
// a restart.
package config
