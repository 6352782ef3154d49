package sources

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.uber.org/zap"

	"essync/internal/config"
	"essync/internal/etl"
)

// ── MongoDB Source ──────────────────────────────────────────
// Reads a collection in _id order. The cursor is the last _id of the
// previous page as canonical Extended JSON, so a page survives restarts
// without a server-side session. The schema is inferred from a sample.

const isoMillis = "2006-01-02T15:04:05.000Z"

// MongoReader implements etl.SourceReader over one database.
type MongoReader struct {
	client *mongo.Client
	db     *mongo.Database
	sample int
	logger *zap.Logger
}

var _ etl.SourceReader = (*MongoReader)(nil)

func NewMongoReader(cfg config.SourceConfig, logger *zap.Logger) (*MongoReader, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Database == "" {
		return nil, errors.New("mongodb source requires a database")
	}
	opts := options.Client().ApplyURI(cfg.URI)
	if cfg.RequestTimeout > 0 {
		opts.SetTimeout(cfg.RequestTimeout)
	}
	client, err := mongo.Connect(opts)
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	sample := cfg.SchemaSample
	if sample <= 0 {
		sample = 100
	}
	return &MongoReader{
		client: client,
		db:     client.Database(cfg.Database),
		sample: sample,
		logger: logger.With(zap.String("source", config.SourceMongoDB), zap.String("database", cfg.Database)),
	}, nil
}

func (m *MongoReader) ListCollections(ctx context.Context) ([]string, error) {
	names, err := m.db.ListCollectionNames(ctx, bson.D{})
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}
	sort.Strings(names)
	return names, nil
}

// GetSchema infers field types from the first documents of the collection.
func (m *MongoReader) GetSchema(ctx context.Context, collection string) (etl.CollectionSchema, error) {
	cur, err := m.db.Collection(collection).Find(ctx, bson.D{}, options.Find().SetLimit(int64(m.sample)))
	if err != nil {
		return nil, fmt.Errorf("sample %s: %w", collection, err)
	}
	var docs []bson.D
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("sample %s: %w", collection, err)
	}
	return inferSchema(docs), nil
}

func (m *MongoReader) FetchPage(ctx context.Context, collection string, cursor *string, pageSize int, _ time.Duration) (*etl.Page, error) {
	filter := bson.D{}
	if cursor != nil {
		last, err := decodeCursor(*cursor)
		if err != nil {
			return nil, fmt.Errorf("resume %s: %w: %v", collection, etl.ErrCursorExpired, err)
		}
		filter = bson.D{{Key: "_id", Value: bson.D{{Key: "$gt", Value: last}}}}
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "_id", Value: 1}}).
		SetLimit(int64(pageSize)).
		SetBatchSize(int32(pageSize))
	cur, err := m.db.Collection(collection).Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", collection, err)
	}
	var raw []bson.D
	if err := cur.All(ctx, &raw); err != nil {
		return nil, fmt.Errorf("read %s: %w", collection, err)
	}

	page := &etl.Page{Documents: make([]etl.Document, 0, len(raw))}
	var lastID any
	for _, d := range raw {
		doc, id := documentFromBSON(d)
		page.Documents = append(page.Documents, doc)
		lastID = id
	}
	if len(raw) == pageSize && lastID != nil {
		next, err := encodeCursor(lastID)
		if err != nil {
			return nil, fmt.Errorf("encode cursor for %s: %w", collection, err)
		}
		page.NextCursor = &next
	}
	m.logger.Debug("fetched page",
		zap.String("collection", collection),
		zap.Int("documents", len(page.Documents)))
	return page, nil
}

func (m *MongoReader) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return m.client.Disconnect(ctx)
}

func encodeCursor(id any) (string, error) {
	b, err := bson.MarshalExtJSON(bson.D{{Key: "_id", Value: id}}, true, false)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeCursor(s string) (any, error) {
	var d bson.D
	if err := bson.UnmarshalExtJSON([]byte(s), true, &d); err != nil {
		return nil, err
	}
	if len(d) != 1 || d[0].Key != "_id" {
		return nil, fmt.Errorf("cursor %q has no _id", s)
	}
	return d[0].Value, nil
}

// documentFromBSON converts a raw document and returns its _id value.
// A body field named "id" is dropped; the row id comes from _id.
func documentFromBSON(d bson.D) (etl.Document, any) {
	doc := etl.Document{Fields: make(map[string]etl.Value, len(d))}
	var id any
	for _, e := range d {
		switch e.Key {
		case "_id":
			id = e.Value
			doc.ID = idString(e.Value)
		case etl.IDField:
		default:
			doc.Fields[e.Key] = bsonValue(e.Value)
		}
	}
	return doc, id
}

func idString(v any) string {
	switch id := v.(type) {
	case bson.ObjectID:
		return id.Hex()
	case string:
		return id
	case nil:
		return ""
	}
	val := bsonValue(v)
	if val.Kind == etl.KindMap || val.Kind == etl.KindList {
		s, err := etl.EncodeJSON(val)
		if err == nil {
			return s
		}
	}
	if val.Kind == etl.KindString || val.Kind == etl.KindNumber {
		return val.Str
	}
	return fmt.Sprint(v)
}

// bsonValue maps a decoded BSON value onto the document value model.
// Datetimes become ISO-8601 UTC strings so the normalizer can rewrite them.
func bsonValue(v any) etl.Value {
	switch t := v.(type) {
	case nil, bson.Null, bson.Undefined:
		return etl.Null()
	case bson.D:
		m := make(map[string]etl.Value, len(t))
		for _, e := range t {
			m[e.Key] = bsonValue(e.Value)
		}
		return etl.Map(m)
	case bson.M:
		m := make(map[string]etl.Value, len(t))
		for k, e := range t {
			m[k] = bsonValue(e)
		}
		return etl.Map(m)
	case map[string]any:
		return bsonValue(bson.M(t))
	case bson.A:
		l := make([]etl.Value, len(t))
		for i, e := range t {
			l[i] = bsonValue(e)
		}
		return etl.List(l)
	case []any:
		return bsonValue(bson.A(t))
	case bson.ObjectID:
		return etl.String(t.Hex())
	case bson.DateTime:
		return etl.String(t.Time().UTC().Format(isoMillis))
	case time.Time:
		return etl.String(t.UTC().Format(isoMillis))
	case bson.Timestamp:
		return etl.String(time.Unix(int64(t.T), 0).UTC().Format(isoMillis))
	case bson.Decimal128:
		return etl.Number(t.String())
	case bson.Binary:
		return etl.String(base64.StdEncoding.EncodeToString(t.Data))
	case bson.Regex:
		return etl.String("/" + t.Pattern + "/" + t.Options)
	case bson.Symbol:
		return etl.String(string(t))
	case bson.JavaScript:
		return etl.String(string(t))
	default:
		return etl.FromAny(v)
	}
}

func inferSchema(docs []bson.D) etl.CollectionSchema {
	schema := etl.CollectionSchema{}
	for _, d := range docs {
		for _, e := range d {
			if e.Key == "_id" || e.Key == etl.IDField {
				continue
			}
			t, ok := inferFieldType(e.Value)
			if !ok {
				continue
			}
			if prev, seen := schema[e.Key]; seen && prev != t {
				schema[e.Key] = widenFieldType(prev, t)
				continue
			}
			schema[e.Key] = t
		}
	}
	return schema
}

// inferFieldType reports false for nulls, which carry no type.
func inferFieldType(v any) (etl.FieldType, bool) {
	switch t := v.(type) {
	case nil, bson.Null, bson.Undefined:
		return "", false
	case string, bson.Symbol, bson.Regex, bson.JavaScript, bson.Binary:
		return etl.FieldText, true
	case bson.ObjectID:
		return etl.FieldKeyword, true
	case bool:
		return etl.FieldType("boolean"), true
	case int32:
		return etl.FieldInteger, true
	case int64, int:
		return etl.FieldLong, true
	case float64, float32, bson.Decimal128:
		return etl.FieldDouble, true
	case bson.DateTime, time.Time, bson.Timestamp:
		return etl.FieldDate, true
	case bson.D, bson.M, map[string]any:
		return etl.FieldObject, true
	case bson.A:
		if len(t) > 0 && isDocument(t[0]) {
			return etl.FieldNested, true
		}
		return etl.FieldText, true
	default:
		return etl.FieldText, true
	}
}

func isDocument(v any) bool {
	switch v.(type) {
	case bson.D, bson.M, map[string]any:
		return true
	}
	return false
}

// widenFieldType picks a type that can hold values of both a and b.
func widenFieldType(a, b etl.FieldType) etl.FieldType {
	numeric := map[etl.FieldType]int{etl.FieldInteger: 1, etl.FieldLong: 2, etl.FieldDouble: 3}
	if na, ok := numeric[a]; ok {
		if nb, ok := numeric[b]; ok {
			if na > nb {
				return a
			}
			return b
		}
	}
	if (a == etl.FieldObject && b == etl.FieldNested) || (a == etl.FieldNested && b == etl.FieldObject) {
		return etl.FieldObject
	}
	return etl.FieldText
}
