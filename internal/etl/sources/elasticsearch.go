package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"go.uber.org/zap"

	"essync/internal/config"
	"essync/internal/etl"
)

// ── Elasticsearch Source ────────────────────────────────────
// Reads an index page by page through the scroll API.
// The cursor is the scroll id; the schema comes from the index mapping.

const scrollExpiredType = "search_context_missing_exception"

const matchAll = `{"query":{"match_all":{}}}`

// ElasticsearchReader implements etl.SourceReader over one cluster.
type ElasticsearchReader struct {
	es        *elasticsearch.Client
	transport *http.Transport
	logger    *zap.Logger
}

var _ etl.SourceReader = (*ElasticsearchReader)(nil)

// NewElasticsearchReader creates a client for cfg.Addresses. No request is made.
func NewElasticsearchReader(cfg config.SourceConfig, logger *zap.Logger) (*ElasticsearchReader, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	tr := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		MaxIdleConnsPerHost:   4,
		IdleConnTimeout:       90 * time.Second,
		ResponseHeaderTimeout: timeout,
	}
	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: cfg.Addresses,
		Username:  cfg.Username,
		Password:  cfg.Password,
		Transport: tr,
	})
	if err != nil {
		return nil, fmt.Errorf("create elasticsearch client: %w", err)
	}
	return &ElasticsearchReader{
		es:        es,
		transport: tr,
		logger:    logger.With(zap.String("source", config.SourceElasticsearch)),
	}, nil
}

type esMappingProperty struct {
	Type       string                       `json:"type"`
	Properties map[string]esMappingProperty `json:"properties"`
}

type esIndexMapping struct {
	Mappings struct {
		Properties map[string]esMappingProperty `json:"properties"`
	} `json:"mappings"`
}

func (r *ElasticsearchReader) GetSchema(ctx context.Context, index string) (etl.CollectionSchema, error) {
	res, err := r.es.Indices.GetMapping(
		r.es.Indices.GetMapping.WithContext(ctx),
		r.es.Indices.GetMapping.WithIndex(index),
	)
	if err != nil {
		return nil, fmt.Errorf("get mapping %s: %w", index, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, fmt.Errorf("get mapping %s: %w", index, responseError(res))
	}

	var body map[string]esIndexMapping
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode mapping %s: %w", index, err)
	}
	m, ok := body[index]
	if !ok {
		// A single entry keyed by the concrete name when index is an alias.
		if len(body) != 1 {
			return nil, fmt.Errorf("mapping for %s not found in response", index)
		}
		for _, only := range body {
			m = only
		}
	}

	schema := make(etl.CollectionSchema, len(m.Mappings.Properties))
	for name, prop := range m.Mappings.Properties {
		schema[name] = mappingFieldType(prop)
	}
	return schema, nil
}

// mappingFieldType reads a property's tag. Object fields are mapped with
// properties and no explicit type.
func mappingFieldType(p esMappingProperty) etl.FieldType {
	switch {
	case p.Type != "":
		return etl.FieldType(p.Type)
	case len(p.Properties) > 0:
		return etl.FieldObject
	default:
		return etl.FieldText
	}
}

func (r *ElasticsearchReader) ListCollections(ctx context.Context) ([]string, error) {
	res, err := r.es.Indices.GetAlias(r.es.Indices.GetAlias.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("list indices: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, fmt.Errorf("list indices: %w", responseError(res))
	}

	var body map[string]json.RawMessage
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode indices: %w", err)
	}
	names := make([]string, 0, len(body))
	for name := range body {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

type esSearchResponse struct {
	ScrollID string `json:"_scroll_id"`
	Hits     struct {
		Hits []struct {
			ID     string         `json:"_id"`
			Source map[string]any `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

// FetchPage opens a scroll when cursor is nil and continues it otherwise.
func (r *ElasticsearchReader) FetchPage(ctx context.Context, index string, cursor *string, pageSize int, sessionTimeout time.Duration) (*etl.Page, error) {
	var (
		res *esapi.Response
		err error
	)
	if cursor == nil {
		res, err = r.es.Search(
			r.es.Search.WithContext(ctx),
			r.es.Search.WithIndex(index),
			r.es.Search.WithScroll(sessionTimeout),
			r.es.Search.WithSize(pageSize),
			r.es.Search.WithBody(strings.NewReader(matchAll)),
		)
	} else {
		res, err = r.es.Scroll(
			r.es.Scroll.WithContext(ctx),
			r.es.Scroll.WithScrollID(*cursor),
			r.es.Scroll.WithScroll(sessionTimeout),
		)
	}
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", index, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		rerr := responseError(res)
		if cursor != nil && (res.StatusCode == http.StatusNotFound || rerr.hasType(scrollExpiredType)) {
			return nil, fmt.Errorf("scroll on %s: %w: %v", index, etl.ErrCursorExpired, rerr)
		}
		return nil, fmt.Errorf("fetch %s: %w", index, rerr)
	}

	dec := json.NewDecoder(res.Body)
	dec.UseNumber()
	var body esSearchResponse
	if err := dec.Decode(&body); err != nil {
		return nil, fmt.Errorf("decode page of %s: %w", index, err)
	}

	page := &etl.Page{Documents: make([]etl.Document, 0, len(body.Hits.Hits))}
	for _, hit := range body.Hits.Hits {
		fields := make(map[string]etl.Value, len(hit.Source))
		for k, v := range hit.Source {
			if k == etl.IDField {
				continue
			}
			fields[k] = etl.FromAny(v)
		}
		page.Documents = append(page.Documents, etl.Document{ID: hit.ID, Fields: fields})
	}
	if len(page.Documents) > 0 && body.ScrollID != "" {
		next := body.ScrollID
		page.NextCursor = &next
	}
	r.logger.Debug("fetched page",
		zap.String("collection", index),
		zap.Int("documents", len(page.Documents)),
		zap.Bool("continued", cursor != nil))
	return page, nil
}

// Close drops idle connections. Open scroll contexts are left to expire on
// the cluster after their keep-alive.
func (r *ElasticsearchReader) Close() error {
	r.transport.CloseIdleConnections()
	return nil
}

// esError is the error body Elasticsearch returns with non-2xx responses.
type esError struct {
	Status int    `json:"-"`
	Type   string `json:"type"`
	Reason string `json:"reason"`
	Causes []struct {
		Type   string `json:"type"`
		Reason string `json:"reason"`
	} `json:"root_cause"`
}

func (e *esError) Error() string {
	if e.Type == "" {
		return fmt.Sprintf("elasticsearch status %d", e.Status)
	}
	return fmt.Sprintf("elasticsearch status %d: %s: %s", e.Status, e.Type, e.Reason)
}

func (e *esError) hasType(t string) bool {
	if e.Type == t {
		return true
	}
	for _, c := range e.Causes {
		if c.Type == t {
			return true
		}
	}
	return false
}

func responseError(res *esapi.Response) *esError {
	e := &esError{Status: res.StatusCode}
	raw, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil || len(raw) == 0 {
		return e
	}
	var body struct {
		Error json.RawMessage `json:"error"`
	}
	if json.Unmarshal(raw, &body) != nil || len(body.Error) == 0 {
		return e
	}
	// "error" is an object on most APIs and a bare string on a few.
	if json.Unmarshal(body.Error, e) != nil {
		var s string
		if json.Unmarshal(body.Error, &s) == nil {
			e.Reason = s
		}
	}
	e.Status = res.StatusCode
	return e
}
