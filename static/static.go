// Package static embeds the read API's page templates.
package static

import "embed"

//go:embed templates/*.html
var FS embed.FS
