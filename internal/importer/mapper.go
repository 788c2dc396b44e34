package importer

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

// Sentinel errors for mapper registry lookups.
var (
	// ErrUnknownPlatform is returned when no mapper is registered for a platform.
	ErrUnknownPlatform = errors.New("unknown source platform")
)

// RowErrorFunc reports one row-level transform failure. Row indexes are
// relative to the record slice handed to Transform.
type RowErrorFunc func(row int, message string)

// Mapper turns raw source-platform records into canonical events.
//
// Implementations are pure functions of their inputs: transforming the same
// records twice with the same importID yields identical events. A malformed
// record must never abort the whole batch - per-row failures are reported
// through the onError callback and the record contributes nothing.
type Mapper interface {
	// Platform returns the source platform this mapper handles.
	Platform() Platform

	// EventTimestamp extracts the record's primary timestamp as canonical
	// UTC text, for date filtering and quota checks ahead of the full
	// transform. Returns false when the record has no usable date field.
	EventTimestamp(record RawRecord) (string, bool)

	// Transform validates and maps records into zero or more canonical
	// events tagged with siteID and importID. onError may be nil.
	Transform(records []RawRecord, siteID, importID string, onError RowErrorFunc) []CanonicalEvent
}

// mappers is the platform registry. Populated at init by each mapper file;
// adding a source platform means adding a mapper plus its dictionary, not
// touching the parse stage.
var mappers = map[Platform]Mapper{}

func registerMapper(m Mapper) {
	mappers[m.Platform()] = m
}

// MapperFor returns the mapper registered for the given platform.
func MapperFor(platform Platform) (Mapper, error) {
	mapper, ok := mappers[platform]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPlatform, platform)
	}

	return mapper, nil
}

//go:embed schemas/*.json
var schemaFiles embed.FS

// mustLoadSchema compiles an embedded JSON schema at package init. A broken
// embedded schema is a programming error, so it panics like a bad
// regexp.MustCompile would.
func mustLoadSchema(name string) *gojsonschema.Schema {
	data, err := schemaFiles.ReadFile("schemas/" + name)
	if err != nil {
		panic(fmt.Sprintf("embedded schema %s: %v", name, err))
	}

	schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(data))
	if err != nil {
		panic(fmt.Sprintf("compile schema %s: %v", name, err))
	}

	return schema
}

// validateRecord checks a raw record's structural shape against a compiled
// schema. Returns a single joined message describing every violation, or ""
// when the record is valid.
func validateRecord(schema *gojsonschema.Schema, record RawRecord) string {
	payload, err := json.Marshal(record)
	if err != nil {
		return "record is not representable as JSON: " + err.Error()
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(payload))
	if err != nil {
		return "schema validation failed: " + err.Error()
	}

	if result.Valid() {
		return ""
	}

	message := "invalid record:"
	for _, violation := range result.Errors() {
		message += " " + violation.String() + ";"
	}

	return message
}
