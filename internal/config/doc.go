// Package config loads, validates, and defaults lyrebird's TOML
// configuration.
//
// Configuration resolves from an explicit --config flag, then
// ~/.config/lyrebird/config.toml, then ./lyrebird.toml; a missing file is not
// an error and yields the built-in defaults. All path fields are expanded
// (~, relative) during Load, env-var fallbacks are applied, and Validate
// rejects unusable values before any component starts.
package config
