package web

import "embed"

// FS contains the dashboard UI (HTML, CSS, JS).
//
//go:embed *.html *.css *.js
var FS embed.FS
