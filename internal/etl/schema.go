package etl

import "sort"

// ── Schema Translator ──────────────────────────────────────
// Maps source field-type tags onto destination column types.
// Pure and total: unknown tags fall back to ColumnLongText.

// FieldType is a source field-type tag as reported by the source schema.
type FieldType string

const (
	FieldKeyword FieldType = "keyword"
	FieldText    FieldType = "text"
	FieldInteger FieldType = "integer"
	FieldLong    FieldType = "long"
	FieldFloat   FieldType = "float"
	FieldDouble  FieldType = "double"
	FieldDate    FieldType = "date"
	FieldObject  FieldType = "object"
	FieldNested  FieldType = "nested"
)

// CollectionSchema maps field name → field-type tag. Read once per run.
type CollectionSchema map[string]FieldType

// ColumnType is a dialect-neutral destination column type.
// Writers render it for their SQL dialect.
type ColumnType string

const (
	ColumnID       ColumnType = "id"
	ColumnKeyword  ColumnType = "keyword"
	ColumnLongText ColumnType = "longtext"
	ColumnInteger  ColumnType = "integer"
	ColumnBigInt   ColumnType = "bigint"
	ColumnFloat    ColumnType = "float"
	ColumnDateTime ColumnType = "datetime"
	ColumnJSON     ColumnType = "json"
)

// ColumnDef is one destination column.
type ColumnDef struct {
	Name       string     `json:"name"`
	Type       ColumnType `json:"type"`
	PrimaryKey bool       `json:"primaryKey,omitempty"`
}

var columnTypes = map[FieldType]ColumnType{
	FieldKeyword: ColumnKeyword,
	FieldText:    ColumnLongText,
	FieldInteger: ColumnInteger,
	FieldLong:    ColumnBigInt,
	FieldFloat:   ColumnFloat,
	FieldDouble:  ColumnFloat,
	FieldDate:    ColumnDateTime,
	FieldObject:  ColumnJSON,
	FieldNested:  ColumnJSON,
}

// ColumnTypeFor maps a single field-type tag.
func ColumnTypeFor(t FieldType) ColumnType {
	if ct, ok := columnTypes[t]; ok {
		return ct
	}
	return ColumnLongText
}

// TranslateSchema produces the destination columns for a collection:
// the primary-key id column first, then one column per field sorted by name.
func TranslateSchema(schema CollectionSchema) []ColumnDef {
	names := make([]string, 0, len(schema))
	for name := range schema {
		if name == IDField || name == "" {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	cols := make([]ColumnDef, 0, len(names)+1)
	cols = append(cols, ColumnDef{Name: IDField, Type: ColumnID, PrimaryKey: true})
	for _, name := range names {
		cols = append(cols, ColumnDef{Name: name, Type: ColumnTypeFor(schema[name])})
	}
	return cols
}
