// ABOUTME: Package documentation for configuration loading
// ABOUTME: Describes file format, env expansion, and defaults

// Package config loads the lavender-chat YAML configuration.
//
// Values of the form ${VAR_NAME} are expanded from the environment
// before parsing. Duration fields accept Go duration strings ("90s",
// "2m"). Missing optional fields receive defaults; Default returns a
// configuration that works with a local backend and no config file.
package config
