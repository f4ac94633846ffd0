package cmd

import (
	"context"
	"fmt"

	"github.com/AzielCF/az-medchat/chatengine/application"
	domain "github.com/AzielCF/az-medchat/chatengine/domain"
	"github.com/AzielCF/az-medchat/chatengine/providers"
	"github.com/AzielCF/az-medchat/chatengine/repository"
	"github.com/AzielCF/az-medchat/core/config"
	"github.com/AzielCF/az-medchat/core/database"
	"github.com/AzielCF/az-medchat/infrastructure/valkey"
	"github.com/AzielCF/az-medchat/pkg/persistworker"
	"github.com/AzielCF/az-medchat/pkg/turnmonitor"
	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc"
	"gorm.io/gorm"
)

// engine owns every long-lived component. Build it with newEngine and always
// call Stop.
type engine struct {
	cfg     *config.Config
	log     logrus.FieldLogger
	cancel  context.CancelFunc
	wg      conc.WaitGroup
	db      *gorm.DB
	valkey  *valkey.Client
	pool    *persistworker.Pool
	monitor *turnmonitor.Monitor
	cache   *repository.ConversationCache
	manager *application.ContextManager
	chat    *application.ChatService
}

func newEngine(parent context.Context, cfg *config.Config) (*engine, error) {
	ctx, cancel := context.WithCancel(parent)
	e := &engine{
		cfg:    cfg,
		log:    logrus.StandardLogger(),
		cancel: cancel,
	}

	store, err := e.openStore(ctx)
	if err != nil {
		e.Stop()
		return nil, err
	}

	retriever, err := e.openRetriever(ctx)
	if err != nil {
		e.Stop()
		return nil, err
	}

	generator, err := providers.NewGenerator(cfg.LLM)
	if err != nil {
		e.Stop()
		return nil, err
	}

	e.pool = persistworker.NewPool(cfg.WorkerPool.Size, cfg.WorkerPool.QueueSize, e.log)
	e.pool.Start(ctx)

	e.monitor = turnmonitor.New(200, cfg.Cache.TTL)
	e.cache = repository.NewConversationCache(cfg.Cache.Capacity, cfg.Cache.TTL)
	e.manager = application.NewContextManager(ctx, &e.wg, e.cache, application.ManagerDeps{
		Store:          store,
		Retriever:      retriever,
		Persister:      e.pool,
		Logger:         e.log,
		SweepInterval:  cfg.Cache.SweepInterval,
		PersistTimeout: cfg.LLM.RequestTimeout,
	})
	e.chat = application.NewChatService(application.ChatServiceDeps{
		Manager:        e.manager,
		Store:          store,
		Generator:      generator,
		Logger:         e.log,
		RequestTimeout: cfg.LLM.RequestTimeout,
		Model:          cfg.LLM.Model,
		Monitor:        e.monitor,
	})

	e.log.WithFields(logrus.Fields{
		"store":    cfg.Database.Store,
		"provider": cfg.LLM.Provider,
		"rag":      cfg.RAG.Enabled,
	}).Info("[APP] Engine ready")
	return e, nil
}

func (e *engine) openDB(ctx context.Context) (*gorm.DB, error) {
	if e.db != nil {
		return e.db, nil
	}
	db, err := database.NewDatabase(e.cfg)
	if err != nil {
		return nil, err
	}
	e.db = db
	return db, nil
}

func (e *engine) openStore(ctx context.Context) (domain.ConversationStore, error) {
	switch e.cfg.Database.Store {
	case "valkey":
		client, err := valkey.NewClient(valkey.Config{
			Address:   e.cfg.Valkey.Address,
			Password:  e.cfg.Valkey.Password,
			DB:        e.cfg.Valkey.DB,
			KeyPrefix: e.cfg.Valkey.KeyPrefix,
		})
		if err != nil {
			return nil, err
		}
		e.valkey = client
		return repository.NewValkeyConversationStore(client), nil
	default:
		db, err := e.openDB(ctx)
		if err != nil {
			return nil, err
		}
		repo := repository.NewConversationGormRepository(db)
		if err := repo.Init(ctx); err != nil {
			return nil, fmt.Errorf("failed to migrate conversation tables: %w", err)
		}
		return repo, nil
	}
}

func (e *engine) openRetriever(ctx context.Context) (domain.Retriever, error) {
	if !e.cfg.RAG.Enabled {
		return domain.NoopRetriever{}, nil
	}
	snippets, err := e.openSnippets(ctx)
	if err != nil {
		return nil, err
	}
	return application.NewEmbeddingRetriever(
		providers.NewOpenAIEmbedder(e.cfg.RAG),
		snippets,
		application.RetrieverConfig{Threshold: e.cfg.RAG.Threshold, Limit: e.cfg.RAG.Limit},
		e.log,
	), nil
}

func (e *engine) openSnippets(ctx context.Context) (*repository.SnippetGormRepository, error) {
	db, err := e.openDB(ctx)
	if err != nil {
		return nil, err
	}
	snippets := repository.NewSnippetGormRepository(db)
	if err := snippets.Init(ctx); err != nil {
		return nil, fmt.Errorf("failed to migrate embeddings table: %w", err)
	}
	return snippets, nil
}

// Stop cancels the sweep, drains pending writes and closes connections.
func (e *engine) Stop() {
	e.log.Info("[APP] Stopping engine...")
	e.cancel()
	e.wg.Wait()
	if e.pool != nil {
		e.pool.Stop()
	}
	if e.valkey != nil {
		e.valkey.Close()
	}
	if e.db != nil {
		if err := database.Close(e.db); err != nil {
			e.log.WithError(err).Warn("[APP] Failed to close database")
		}
	}
	e.log.Info("[APP] Engine stopped cleanly")
}
