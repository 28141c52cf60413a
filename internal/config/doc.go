// Package config loads the bridge configuration from YAML over built-in
// defaults and validates it section by section.
package config
