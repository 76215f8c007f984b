// Package assets embeds the default configuration documents written on
// first run.
package assets

import _ "embed"

//go:embed defaults/config.yaml
var DefaultConfigYAML []byte

//go:embed defaults/actions.yaml
var DefaultActionsYAML []byte

//go:embed defaults/security.yaml
var DefaultSecurityYAML []byte
