// Package registry tracks the component identifiers (datasets, samplers,
// collate functions, parsers, models, modules) that the external training
// framework can instantiate. Resolution is opt-in: loading a configuration
// never consults the registry.
package registry
