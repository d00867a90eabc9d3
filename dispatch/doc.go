// Package dispatch provides jsbridge.Dispatcher implementations for hosts:
// identifier routing, method tables, TOML-backed fixtures and a
// database/sql backed capability.
package dispatch
