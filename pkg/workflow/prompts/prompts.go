// Package prompts embeds the workflow prompt files.
package prompts

import "embed"

//go:embed *.md
var FS embed.FS
