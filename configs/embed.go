// Package configs provides the embedded configuration template for cardrag.
//
// The template is embedded at build time so `cardrag init` works from any
// distribution. Keep it in step with internal/config NewConfig().
package configs

import _ "embed"

// ProjectConfigTemplate is written to .cardrag.yaml by `cardrag init`.
//
//go:embed project-config.example.yaml
var ProjectConfigTemplate string
