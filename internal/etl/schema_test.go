package etl

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestColumnTypeFor(t *testing.T) {
	cases := map[FieldType]ColumnType{
		FieldKeyword: ColumnKeyword,
		FieldText:    ColumnLongText,
		FieldInteger: ColumnInteger,
		FieldLong:    ColumnBigInt,
		FieldFloat:   ColumnFloat,
		FieldDouble:  ColumnFloat,
		FieldDate:    ColumnDateTime,
		FieldObject:  ColumnJSON,
		FieldNested:  ColumnJSON,
		"geo_point":  ColumnLongText,
		"":           ColumnLongText,
	}
	for in, want := range cases {
		assert.Equal(t, want, ColumnTypeFor(in), "tag %q", in)
	}
}

func TestTranslateSchema_IDFirstThenSorted(t *testing.T) {
	cols := TranslateSchema(CollectionSchema{
		"zeta":    FieldKeyword,
		"alpha":   FieldDate,
		"payload": FieldNested,
	})
	assert.Equal(t, []ColumnDef{
		{Name: "id", Type: ColumnID, PrimaryKey: true},
		{Name: "alpha", Type: ColumnDateTime},
		{Name: "payload", Type: ColumnJSON},
		{Name: "zeta", Type: ColumnKeyword},
	}, cols)
}

func TestTranslateSchema_SourceIDFieldIsNotDuplicated(t *testing.T) {
	cols := TranslateSchema(CollectionSchema{"id": FieldLong, "name": FieldText})
	assert.Len(t, cols, 2)
	assert.Equal(t, ColumnDef{Name: "id", Type: ColumnID, PrimaryKey: true}, cols[0])
	assert.Equal(t, "name", cols[1].Name)
}

func TestTranslateSchema_Empty(t *testing.T) {
	cols := TranslateSchema(nil)
	assert.Equal(t, []ColumnDef{{Name: "id", Type: ColumnID, PrimaryKey: true}}, cols)
}
