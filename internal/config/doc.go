// Package config provides configuration loading and validation for the
// audio stream bridge. It reads a YAML file, applies AUDIOSTREAM_*
// environment overrides and validates every section.
package config
