package di

import (
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/dig"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/aihub/knowledge-go/internal/config"
	"github.com/aihub/knowledge-go/internal/database"
	"github.com/aihub/knowledge-go/internal/kafka"
	"github.com/aihub/knowledge-go/internal/knowledge"
	"github.com/aihub/knowledge-go/internal/logger"
	"github.com/aihub/knowledge-go/internal/metrics"
	"github.com/aihub/knowledge-go/internal/repository"
	"github.com/aihub/knowledge-go/internal/services"
	"github.com/aihub/knowledge-go/internal/storage"
)

// RegisterProviders 注册所有依赖提供者
func RegisterProviders(container *dig.Container) error {
	providers := []interface{}{
		provideConfig,
		provideDatabase,
		provideDB,
		provideRedis,
		provideStore,
		provideMetrics,
		provideObjectStorage,
		provideEmbedder,
		provideVectorStore,
		provideFulltextIndexer,
		provideReranker,
		provideGraphExtractor,
		provideSearchCache,
		provideEngine,
		provideTextExtractor,
		provideProducer,
		provideKBService,
		provideIndexingService,
		provideSearchService,
		provideScheduler,
	}
	for _, p := range providers {
		if err := container.Provide(p); err != nil {
			return err
		}
	}
	return nil
}

func provideConfig() (*config.Config, error) {
	if config.AppConfig == nil {
		if err := config.LoadConfig(); err != nil {
			return nil, err
		}
	}
	return config.AppConfig, nil
}

func provideDatabase(cfg *config.Config) (*database.Database, error) {
	return database.NewDatabase(cfg)
}

func provideDB(db *database.Database) *gorm.DB {
	return db.GetDB()
}

func provideRedis(cfg *config.Config) *redis.Client {
	rdb, err := database.ConnectRedis(&cfg.Redis)
	if err != nil {
		logger.Warn("Redis不可用，相关缓存与状态镜像被禁用", zap.Error(err))
		return nil
	}
	return rdb
}

func provideStore(db *gorm.DB) repository.Store {
	return repository.NewStore(db)
}

func provideMetrics() *metrics.Metrics {
	return metrics.New()
}

func provideObjectStorage(cfg *config.Config) storage.ObjectStorage {
	sc := cfg.Knowledge.Storage
	if sc.Provider == "minio" || sc.Provider == "s3" {
		store, err := storage.NewMinIOStorage(sc)
		if err != nil {
			logger.Warn("MinIO不可用，原始文档存储被禁用", zap.Error(err))
			return nil
		}
		return store
	}
	return nil
}

func provideEmbedder(cfg *config.Config) knowledge.Embedder {
	ec := cfg.Knowledge.Embedding
	switch ec.Provider {
	case "openai":
		return knowledge.NewOpenAIEmbedder(ec.APIKey, ec.Model)
	case "dashscope":
		return knowledge.NewDashScopeEmbedder(ec.APIKey, ec.Model)
	default:
		return &knowledge.NoopEmbedder{}
	}
}

func provideVectorStore(cfg *config.Config, db *gorm.DB) (knowledge.VectorStore, error) {
	vc := cfg.Knowledge.VectorStore
	switch vc.Provider {
	case "milvus":
		return knowledge.NewMilvusVectorStore(knowledge.MilvusOptions{
			Address:          vc.Milvus.Address,
			Username:         vc.Milvus.Username,
			Password:         vc.Milvus.Password,
			CollectionPrefix: vc.Milvus.Collection,
			VectorSize:       vc.Milvus.VectorSize,
			Distance:         vc.Milvus.Distance,
			Database:         vc.Milvus.Database,
			UseTLS:           vc.Milvus.TLS,
		})
	case "qdrant":
		return knowledge.NewQdrantVectorStore(knowledge.QdrantOptions{
			Endpoint:         vc.Qdrant.Endpoint,
			APIKey:           vc.Qdrant.APIKey,
			CollectionPrefix: vc.Qdrant.CollectionPrefix,
			Distance:         vc.Qdrant.Distance,
		})
	case "memory":
		return knowledge.NewMemoryVectorStore(), nil
	case "", "database":
		return knowledge.NewDatabaseVectorStore(db), nil
	default:
		return nil, fmt.Errorf("unknown vector store provider: %s", vc.Provider)
	}
}

func provideFulltextIndexer(cfg *config.Config, db *gorm.DB) knowledge.FulltextIndexer {
	sc := cfg.Knowledge.Search
	if sc.Provider == "elasticsearch" {
		es := sc.Elasticsearch
		indexer, err := knowledge.NewElasticsearchIndexer(es.Addresses, es.Username, es.Password, es.APIKey, es.IndexPrefix)
		if err == nil {
			return indexer
		}
		logger.Warn("Elasticsearch不可用，关键词检索回退到数据库", zap.Error(err))
	}
	return knowledge.NewDatabaseIndexer(db)
}

func provideReranker(cfg *config.Config) knowledge.Reranker {
	rc := cfg.Knowledge.Rerank
	if rc.Enabled && rc.Endpoint != "" {
		return knowledge.NewHTTPReranker(rc.Endpoint, rc.APIKey, rc.Model)
	}
	return &knowledge.NoopReranker{}
}

func provideGraphExtractor(cfg *config.Config) knowledge.GraphExtractor {
	ec := cfg.Knowledge.Embedding
	if ec.Provider == "openai" && ec.APIKey != "" {
		return knowledge.NewOpenAIGraphExtractor(ec.APIKey, "", "")
	}
	return &knowledge.NoopGraphExtractor{}
}

func provideSearchCache(cfg *config.Config) *knowledge.SearchCache {
	cc := cfg.Knowledge.Cache
	return knowledge.NewSearchCache(cc.MaxEntries, time.Duration(cc.TTLSeconds)*time.Second)
}

func provideEngine(indexer knowledge.FulltextIndexer, vectorStore knowledge.VectorStore, embedder knowledge.Embedder, reranker knowledge.Reranker, cache *knowledge.SearchCache) *knowledge.HybridSearchEngine {
	return knowledge.NewHybridSearchEngine(indexer, vectorStore, embedder, reranker, cache)
}

func provideTextExtractor() *knowledge.TextExtractor {
	return knowledge.NewTextExtractor()
}

func provideProducer(cfg *config.Config) *kafka.Producer {
	if !cfg.Kafka.Enabled || len(cfg.Kafka.Brokers) == 0 {
		return nil
	}
	producer, err := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic)
	if err != nil {
		logger.Warn("Kafka不可用，文档处理回退为本地执行", zap.Error(err))
		return nil
	}
	return producer
}

func provideKBService(store repository.Store) *services.KnowledgeBaseService {
	return services.NewKnowledgeBaseService(store)
}

func provideIndexingService(cfg *config.Config, store repository.Store, vectorStore knowledge.VectorStore, indexer knowledge.FulltextIndexer, embedder knowledge.Embedder, extractor *knowledge.TextExtractor, graph knowledge.GraphExtractor, objects storage.ObjectStorage, rdb *redis.Client, producer *kafka.Producer, m *metrics.Metrics) *services.IndexingService {
	return services.NewIndexingService(store, vectorStore, indexer, embedder, extractor, cfg.Knowledge, &services.IndexingServiceOptions{
		ObjectStorage: objects,
		Redis:         rdb,
		Producer:      producer,
		Metrics:       m,
		Graph:         graph,
	})
}

func provideSearchService(cfg *config.Config, store repository.Store, engine *knowledge.HybridSearchEngine, kbService *services.KnowledgeBaseService, rdb *redis.Client, m *metrics.Metrics) *services.SearchService {
	return services.NewSearchService(store, engine, kbService, rdb, m, cfg.Knowledge.Cache)
}

func provideScheduler(cfg *config.Config, store repository.Store, indexing *services.IndexingService, search *services.SearchService) *services.Scheduler {
	return services.NewScheduler(store, indexing, search, cfg.Knowledge)
}
