package sources

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"

	"essync/internal/config"
	"essync/internal/etl"
)

func TestBSONValue(t *testing.T) {
	oid := bson.NewObjectID()
	at := time.Date(2024, 1, 15, 10, 30, 0, 123e6, time.UTC)
	dec, err := bson.ParseDecimal128("12.50")
	require.NoError(t, err)

	cases := []struct {
		name string
		in   any
		want etl.Value
	}{
		{"nil", nil, etl.Null()},
		{"null", bson.Null{}, etl.Null()},
		{"string", "x", etl.String("x")},
		{"int32", int32(7), etl.Int(7)},
		{"int64", int64(9007199254740993), etl.Int(9007199254740993)},
		{"double", 2.5, etl.Float(2.5)},
		{"bool", true, etl.Bool(true)},
		{"objectid", oid, etl.String(oid.Hex())},
		{"datetime", bson.NewDateTimeFromTime(at), etl.String("2024-01-15T10:30:00.123Z")},
		{"decimal", dec, etl.Number("12.50")},
		{"binary", bson.Binary{Data: []byte("hi")}, etl.String("aGk=")},
		{"document", bson.D{{Key: "a", Value: int32(1)}}, etl.Map(map[string]etl.Value{"a": etl.Int(1)})},
		{"array", bson.A{"x", bson.D{{Key: "b", Value: false}}}, etl.List([]etl.Value{
			etl.String("x"), etl.Map(map[string]etl.Value{"b": etl.Bool(false)}),
		})},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, bsonValue(tc.in))
		})
	}
}

func TestBSONDatetimeIsNormalized(t *testing.T) {
	at := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)
	d, _ := documentFromBSON(bson.D{{Key: "_id", Value: "k"}, {Key: "at", Value: bson.NewDateTimeFromTime(at)}})

	out, err := etl.NewNormalizer(time.UTC).Normalize(d)
	require.NoError(t, err)
	assert.Equal(t, etl.String("2024-01-15 10:30:00"), out.Fields["at"])
}

func TestBSONNonFiniteDoublesBecomeNull(t *testing.T) {
	d, _ := documentFromBSON(bson.D{
		{Key: "_id", Value: "k"},
		{Key: "score", Value: math.NaN()},
		{Key: "meta", Value: bson.D{{Key: "x", Value: math.Inf(1)}, {Key: "y", Value: 2.5}}},
	})
	assert.Equal(t, etl.Null(), d.Fields["score"])

	out, err := etl.NewNormalizer(time.UTC).Normalize(d)
	require.NoError(t, err)
	assert.Equal(t, etl.String(`{"x":null,"y":2.5}`), out.Fields["meta"])
}

func TestDocumentFromBSON(t *testing.T) {
	oid := bson.NewObjectID()
	d, id := documentFromBSON(bson.D{
		{Key: "_id", Value: oid},
		{Key: "id", Value: "body"},
		{Key: "name", Value: "n"},
	})
	assert.Equal(t, oid, id)
	assert.Equal(t, oid.Hex(), d.ID)
	assert.Equal(t, map[string]etl.Value{"name": etl.String("n")}, d.Fields)
}

func TestIDString(t *testing.T) {
	assert.Equal(t, "abc", idString("abc"))
	assert.Equal(t, "42", idString(int64(42)))
	assert.Equal(t, "true", idString(true))
	assert.Equal(t, `{"a":1}`, idString(bson.D{{Key: "a", Value: int32(1)}}))
}

func TestCursorRoundTrip(t *testing.T) {
	for _, id := range []any{bson.NewObjectID(), "string-id", int64(12), int32(3)} {
		s, err := encodeCursor(id)
		require.NoError(t, err)
		got, err := decodeCursor(s)
		require.NoError(t, err)
		assert.Equal(t, id, got, "cursor %s", s)
	}
}

func TestDecodeCursorRejectsGarbage(t *testing.T) {
	_, err := decodeCursor("s1")
	require.Error(t, err)
	_, err = decodeCursor(`{"other":1}`)
	require.Error(t, err)
}

func TestInferSchema(t *testing.T) {
	docs := []bson.D{
		{
			{Key: "_id", Value: bson.NewObjectID()},
			{Key: "name", Value: "a"},
			{Key: "count", Value: int32(1)},
			{Key: "at", Value: bson.NewDateTimeFromTime(time.Now())},
			{Key: "meta", Value: bson.D{{Key: "k", Value: "v"}}},
			{Key: "items", Value: bson.A{bson.D{{Key: "sku", Value: "x"}}}},
			{Key: "tags", Value: bson.A{"x"}},
			{Key: "ref", Value: bson.NewObjectID()},
			{Key: "later", Value: nil},
		},
		{
			{Key: "_id", Value: bson.NewObjectID()},
			{Key: "count", Value: 2.5},
			{Key: "later", Value: int64(5)},
			{Key: "name", Value: int32(3)},
		},
	}
	assert.Equal(t, etl.CollectionSchema{
		"name":  etl.FieldText,
		"count": etl.FieldDouble,
		"at":    etl.FieldDate,
		"meta":  etl.FieldObject,
		"items": etl.FieldNested,
		"tags":  etl.FieldText,
		"ref":   etl.FieldKeyword,
		"later": etl.FieldLong,
	}, inferSchema(docs))
}

func TestWidenFieldType(t *testing.T) {
	assert.Equal(t, etl.FieldLong, widenFieldType(etl.FieldInteger, etl.FieldLong))
	assert.Equal(t, etl.FieldDouble, widenFieldType(etl.FieldDouble, etl.FieldInteger))
	assert.Equal(t, etl.FieldObject, widenFieldType(etl.FieldNested, etl.FieldObject))
	assert.Equal(t, etl.FieldText, widenFieldType(etl.FieldDate, etl.FieldKeyword))
}

func TestOpen(t *testing.T) {
	_, err := Open(config.SourceConfig{Kind: "solr"}, nil)
	require.Error(t, err)

	_, err = Open(config.SourceConfig{Kind: config.SourceMongoDB, URI: "mongodb://localhost:27017"}, nil)
	require.Error(t, err, "database is required")

	r, err := Open(config.SourceConfig{Kind: config.SourceElasticsearch, Addresses: []string{"http://localhost:9200"}}, nil)
	require.NoError(t, err)
	require.NoError(t, r.Close())
}

func TestOpenMongoDoesNotDial(t *testing.T) {
	r, err := Open(config.SourceConfig{Kind: config.SourceMongoDB, URI: "mongodb://127.0.0.1:1", Database: "app"}, nil)
	require.NoError(t, err)
	require.NoError(t, r.Close())
}
