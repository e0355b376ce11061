// Package instrument owns the live instrument connections.
//
// A Manager holds at most one connection per instrument kind. Each
// connection bundles the model facade (which owns its Exchanger) with the
// Aggregator polling it. Teardown always stops the Aggregator before the
// Exchanger is closed. The Manager is created once at startup and handed
// to the command and API layers; there is no package-level instance.
package instrument
