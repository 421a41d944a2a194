package config

import _ "embed"

// Default holds the built-in configuration document merged under conf.yaml.
//
//go:embed default.yaml
var Default []byte
