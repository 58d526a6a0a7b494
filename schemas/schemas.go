// Package schemas embeds the JSON Schemas for pipeline definition and schedule documents.
package schemas

import _ "embed"

// Pipeline is the schema every pipeline definition document must satisfy.
//
//go:embed pipeline.schema.json
var Pipeline string

// Schedule is the schema for the schedule file.
//
//go:embed schedule.schema.json
var Schedule string
