// Package schemasassets provides embedded JSON schemas for standalone binary behavior.
//
// Schemas are embedded at compile time so parameter validation works
// regardless of the working directory or installation location.
package schemasassets

import _ "embed"

// SynchronizeParametersSchema is the embedded schema for the parameter
// document of synchronize pipelines.
//
//go:embed synchronize-parameters.schema.json
var SynchronizeParametersSchema []byte

// TransformParametersSchema is the embedded schema for the parameter
// document of transform pipelines.
//
//go:embed transform-parameters.schema.json
var TransformParametersSchema []byte
