package factory

import (
	"fmt"

	"github.com/anime-shed/image-classifier-go/internal/config"
	"github.com/anime-shed/image-classifier-go/internal/history"
	"github.com/anime-shed/image-classifier-go/internal/storage"
)

// StorageFactory creates the source model weights are resolved from
type StorageFactory interface {
	CreateWeightSource(cfg *config.Config) (storage.WeightSource, error)
}

// HistoryFactory creates the prediction history backend
type HistoryFactory interface {
	CreateHistoryStore(cfg *config.Config) (history.Store, error)
}

// storageFactory implements StorageFactory
type storageFactory struct{}

// NewStorageFactory creates a new storage factory
func NewStorageFactory() StorageFactory {
	return &storageFactory{}
}

// CreateWeightSource picks a backend from cfg.ModelSource
func (f *storageFactory) CreateWeightSource(cfg *config.Config) (storage.WeightSource, error) {
	switch cfg.ModelSource {
	case config.SourceLocal:
		return storage.NewLocalWeightSource(cfg.ModelDir), nil
	case config.SourceHTTP:
		return storage.NewHTTPWeightSource(cfg.ModelBaseURL, cfg.ModelCacheDir), nil
	case config.SourceAzure:
		src, err := storage.NewAzureWeightSource(cfg.AzureAccount, cfg.AzureKey, cfg.AzureContainer, cfg.ModelCacheDir)
		if err != nil {
			return nil, fmt.Errorf("failed to create azure weight source: %w", err)
		}
		return src, nil
	default:
		return nil, fmt.Errorf("unsupported model source: %s", cfg.ModelSource)
	}
}

// historyFactory implements HistoryFactory
type historyFactory struct{}

// NewHistoryFactory creates a new history factory
func NewHistoryFactory() HistoryFactory {
	return &historyFactory{}
}

// CreateHistoryStore opens SQLite when HISTORY_DB is set and falls back to
// an in-memory ring otherwise.
func (f *historyFactory) CreateHistoryStore(cfg *config.Config) (history.Store, error) {
	if cfg.HistoryDB == "" {
		return history.NewMemoryStore(cfg.HistorySize), nil
	}
	store, err := history.OpenSQLite(cfg.HistoryDB, cfg.HistorySize)
	if err != nil {
		return nil, fmt.Errorf("failed to open history db: %w", err)
	}
	return store, nil
}

// ComponentFactory combines all factories
type ComponentFactory struct {
	StorageFactory StorageFactory
	HistoryFactory HistoryFactory
}

// NewComponentFactory creates a new component factory
func NewComponentFactory() *ComponentFactory {
	return &ComponentFactory{
		StorageFactory: NewStorageFactory(),
		HistoryFactory: NewHistoryFactory(),
	}
}
