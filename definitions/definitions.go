// Package definitions bundles the workflow definitions shipped with the binary.
package definitions

import "embed"

//go:embed *.json
var FS embed.FS

// Dir is the directory to pass to definition.Loader.RegisterFS together with FS.
const Dir = "."
