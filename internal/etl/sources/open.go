package sources

import (
	"fmt"

	"go.uber.org/zap"

	"essync/internal/config"
	"essync/internal/etl"
)

// Open creates the reader for cfg.Kind.
func Open(cfg config.SourceConfig, logger *zap.Logger) (etl.SourceReader, error) {
	switch cfg.Kind {
	case config.SourceElasticsearch:
		r, err := NewElasticsearchReader(cfg, logger)
		if err != nil {
			return nil, err
		}
		return r, nil
	case config.SourceMongoDB:
		r, err := NewMongoReader(cfg, logger)
		if err != nil {
			return nil, err
		}
		return r, nil
	default:
		return nil, fmt.Errorf("unsupported source: %s", cfg.Kind)
	}
}
