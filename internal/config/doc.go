// Package config loads the validation service's runtime configuration from
// multiple sources (YAML files, environment variables, CLI flags) with
// precedence: CLI flags > YAML config > Environment variables > Defaults.
// Training documents themselves are handled by package trainconfig.
package config
