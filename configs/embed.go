// Package configs embeds the configuration templates written by
// `kbcontext config init`.
//
// Configuration hierarchy (see internal/config Load):
//  1. Built-in defaults (config.NewConfig)
//  2. User config (~/.config/kbcontext/config.yaml)
//  3. Project config (.kbcontext.yaml)
//  4. Environment variables (KBCONTEXT_*)
package configs

import _ "embed"

// UserConfigTemplate is written by `kbcontext config init --user`.
//
//go:embed user-config.example.yaml
var UserConfigTemplate string

// ProjectConfigTemplate is written by `kbcontext config init` as
// .kbcontext.yaml in the project directory.
//
//go:embed project-config.example.yaml
var ProjectConfigTemplate string
