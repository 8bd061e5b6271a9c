package web

import "embed"

// AppFS holds the page template and its static assets.
//
//go:embed templates static
var AppFS embed.FS
