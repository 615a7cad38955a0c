// Package shotclock holds build metadata and the embedded web assets.
package shotclock

import "embed"

// Version is the release version shown in the startup banner.
const Version = "0.3.1"

// WebFS contains the HTML templates served by the api package.
//
//go:embed web/templates
var WebFS embed.FS
