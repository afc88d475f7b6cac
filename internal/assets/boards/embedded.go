// Package boardsassets provides the embedded default board catalog and the
// board definition schema.
//
// Both are embedded at compile time so board resolution works in installed
// binaries without a PlatformIO boards directory on disk.
package boardsassets

import _ "embed"

// Catalog is the embedded YAML board catalog.
//
//go:embed boards.yaml
var Catalog []byte

// DefinitionSchema is the JSON schema every on-disk board definition must
// satisfy.
//
//go:embed board-definition.schema.json
var DefinitionSchema []byte
