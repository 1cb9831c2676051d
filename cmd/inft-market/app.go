package main

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/inft-marketplace/internal/agents"
	"github.com/smartdevs17/inft-marketplace/internal/config"
	"github.com/smartdevs17/inft-marketplace/internal/connection"
	"github.com/smartdevs17/inft-marketplace/internal/contracts"
	"github.com/smartdevs17/inft-marketplace/internal/metrics"
	"github.com/smartdevs17/inft-marketplace/internal/models"
	"github.com/smartdevs17/inft-marketplace/internal/monitor"
	"github.com/smartdevs17/inft-marketplace/internal/notification"
	"github.com/smartdevs17/inft-marketplace/internal/pinning"
	"github.com/smartdevs17/inft-marketplace/internal/reconcile"
	"github.com/smartdevs17/inft-marketplace/internal/saga"
	"github.com/smartdevs17/inft-marketplace/internal/server"
	"github.com/smartdevs17/inft-marketplace/internal/storage"
	"github.com/smartdevs17/inft-marketplace/pkg/utils"
)

// Application holds every wired component
type Application struct {
	config  *config.Config
	logger  *logrus.Entry
	metrics *metrics.Manager

	store    storage.AgentStore
	agents   *agents.Service
	notifier *notification.Manager

	connection   *connection.ConnectionManager
	client       connection.Client
	logSource    connection.LogSource
	marketplace  *contracts.Marketplace
	factory      *contracts.Factory
	engine       *reconcile.Engine
	orchestrator *saga.Orchestrator
	watcher      *monitor.ListingWatcher

	server *server.HTTPServer
	ctx    context.Context
	cancel context.CancelFunc
}

// chainBackend is what a devchain or a ChainClient provides
type chainBackend interface {
	connection.Client
	connection.LogSource
}

// NewApplication wires the components described by cfg. When backend is
// non-nil it replaces the RPC connection, which the demo command uses.
func NewApplication(cfg *config.Config, backend chainBackend) (*Application, error) {
	ctx, cancel := context.WithCancel(context.Background())
	app := &Application{
		config:  cfg,
		logger:  utils.ComponentLogger("app"),
		metrics: metrics.NewManager(),
		ctx:     ctx,
		cancel:  cancel,
	}

	if err := app.initializeStorage(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	app.notifier = notification.NewFromConfig(&cfg.Notifications, app.metrics)

	if backend != nil {
		app.client = backend
		app.logSource = backend
	} else if err := app.initializeConnection(); err != nil {
		app.Stop()
		return nil, fmt.Errorf("failed to initialize connection: %w", err)
	}

	if app.client != nil {
		if err := app.initializeChainComponents(); err != nil {
			app.Stop()
			return nil, fmt.Errorf("failed to initialize chain components: %w", err)
		}
	}

	app.initializeServer()
	app.logger.Info("All components initialized successfully")
	return app, nil
}

// initializeStorage opens the durable store. A durable store that cannot be
// reached only disables persistence when fallback is enabled.
func (app *Application) initializeStorage() error {
	store, err := storage.Open(&app.config.Storage)
	if err != nil {
		if !app.config.Storage.EnableFallback {
			return err
		}
		app.logger.WithError(err).Warn("Durable storage unavailable, serving from memory")
	} else {
		app.store = storage.NewStorageWithMetrics(store, app.metrics)
	}

	app.agents = agents.NewService(app.store, agents.Options{
		CacheTTL:    app.config.Cache.TTL,
		CacheSizeMB: app.config.Cache.SizeMB,
	}, app.metrics)
	return nil
}

// initializeConnection dials the configured node when chain settings are present
func (app *Application) initializeConnection() error {
	if !app.config.ChainEnabled() {
		app.logger.Warn("Chain settings incomplete, chain features disabled")
		return nil
	}

	app.connection = connection.NewConnectionManager(&app.config.Chain, app.metrics)

	var signer connection.Signer
	if app.config.Chain.PrivateKey != "" {
		keySigner, err := connection.NewKeySigner(app.config.Chain.PrivateKey)
		if err != nil {
			return err
		}
		signer = keySigner
	}

	var chainID *big.Int
	if app.config.Chain.ChainID > 0 {
		chainID = big.NewInt(app.config.Chain.ChainID)
	}
	client := connection.NewChainClient(app.connection, signer, chainID, app.metrics)
	app.client = client
	app.logSource = client

	app.logger.WithFields(logrus.Fields{
		"node_url": app.config.Chain.NodeURL,
		"account":  utils.AddressHex(client.Account()),
	}).Info("Chain client initialized")
	return nil
}

func (app *Application) initializeChainComponents() error {
	chainCfg := app.config.Chain
	if !utils.IsValidAddress(chainCfg.MarketplaceAddress) {
		return utils.NewAppError(utils.ErrCodeConfiguration, "Invalid marketplace address", chainCfg.MarketplaceAddress)
	}
	marketAddr := common.HexToAddress(chainCfg.MarketplaceAddress)
	app.marketplace = contracts.NewMarketplace(app.client, marketAddr)

	opts := []reconcile.Option{reconcile.WithListingCounter(app.marketplace)}
	if chainCfg.FactoryAddress != "" {
		if !utils.IsValidAddress(chainCfg.FactoryAddress) {
			return utils.NewAppError(utils.ErrCodeConfiguration, "Invalid factory address", chainCfg.FactoryAddress)
		}
		app.factory = contracts.NewFactory(app.client, common.HexToAddress(chainCfg.FactoryAddress))
		opts = append(opts, reconcile.WithAgentRegistry(app.factory))
	}

	app.engine = reconcile.NewEngine(app.client, reconcile.Config{
		ReceiptAttempts: app.config.Reconcile.ReceiptAttempts,
		ReceiptDelay:    app.config.Reconcile.ReceiptDelay,
		MaxPlausibleID:  app.config.Reconcile.MaxPlausibleID,
	}, app.metrics, opts...)

	if app.factory != nil {
		uploader, err := pinning.NewUploader(&app.config.Pinning)
		if err != nil {
			app.logger.WithError(err).Warn("Pinning disabled, metadata will use fallback URIs")
			uploader = nil
		}
		sagaCfg := saga.DefaultConfig()
		sagaCfg.CreateAgentGas = chainCfg.CreateAgentGasLimit
		sagaCfg.TxGas = chainCfg.TxGasLimit
		sagaCfg.BuyGas = chainCfg.BuyGasLimit
		sagaCfg.UploadTimeout = app.config.Pinning.Timeout
		if chainCfg.CreationFee != "" {
			fee, err := models.PriceToWei(chainCfg.CreationFee)
			if err != nil {
				return utils.WrapError(utils.ErrCodeConfiguration, "Invalid creation fee", err)
			}
			sagaCfg.CreationFee = fee
		}

		var progress saga.ProgressStore = app.agents.Fallback()
		if app.store != nil {
			progress = app.store
		}
		app.orchestrator = saga.New(saga.Deps{
			Client:      app.client,
			Factory:     app.factory,
			Marketplace: app.marketplace,
			NFT:         contracts.NewAgentNFT(app.client),
			Engine:      app.engine,
			Agents:      app.agents,
			Uploader:    uploader,
			Notifier:    app.notifier,
			Recorder:    saga.NewStepRecorder(progress),
		}, sagaCfg, app.metrics)
	}

	if app.config.Monitor.Enabled {
		var cursor monitor.CursorStore = app.agents.Fallback()
		if app.store != nil {
			cursor = app.store
		}
		app.watcher = monitor.NewListingWatcher(app.logSource, marketAddr, app.agents, cursor, &monitor.Config{
			PollInterval:       app.config.Monitor.PollInterval,
			BatchSize:          app.config.Monitor.BatchSize,
			ConfirmationBlocks: app.config.Monitor.ConfirmationBlocks,
			StartBlock:         app.config.Monitor.StartBlock,
		}, app.metrics)
	}
	return nil
}

func (app *Application) initializeServer() {
	serverCfg := &server.ServerConfig{
		Port:          app.config.Server.Port,
		Host:          app.config.Server.Host,
		ReadTimeout:   app.config.Server.ReadTimeout,
		WriteTimeout:  app.config.Server.WriteTimeout,
		EnableMetrics: app.config.Server.EnableMetrics,
		EnableHealth:  app.config.Server.EnableHealth,
		Version:       app.config.App.Version,
	}

	app.server = server.NewHTTPServer(serverCfg, server.Deps{
		Agents:      app.agents,
		Store:       app.store,
		FeeBps:      app.config.Marketplace.FeeBps,
		Marketplace: app.marketplace,
		Engine:      app.engine,
		Watcher:     app.watcher,
		Connection:  app.connection,
	}, app.metrics)
}

// Start starts the HTTP server, the watcher and the system metrics loop
func (app *Application) Start() error {
	app.logger.WithFields(logrus.Fields{
		"version":     app.config.App.Version,
		"environment": app.config.App.Environment,
	}).Info("Starting INFT marketplace service")

	go app.metrics.Run(app.ctx, 15*time.Second)

	if err := app.server.Start(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	if app.watcher != nil {
		if err := app.watcher.Start(app.ctx); err != nil {
			return fmt.Errorf("failed to start listing watcher: %w", err)
		}
	}

	app.logger.WithFields(logrus.Fields{
		"server_address": fmt.Sprintf("%s:%d", app.config.Server.Host, app.config.Server.Port),
		"chain_enabled":  app.client != nil,
		"watcher":        app.watcher != nil,
	}).Info("INFT marketplace service started")
	return nil
}

// Stop stops components in reverse order
func (app *Application) Stop() {
	app.logger.Info("Stopping INFT marketplace service")
	app.cancel()

	if app.server != nil {
		if err := app.server.Stop(); err != nil {
			app.logger.WithError(err).Error("Failed to stop HTTP server")
		}
	}
	if app.watcher != nil && app.watcher.IsRunning() {
		if err := app.watcher.Stop(); err != nil {
			app.logger.WithError(err).Error("Failed to stop listing watcher")
		}
	}
	if app.store != nil {
		if err := app.store.Close(); err != nil {
			app.logger.WithError(err).Error("Failed to close storage")
		}
	}
	if app.connection != nil {
		if err := app.connection.Close(); err != nil {
			app.logger.WithError(err).Error("Failed to close connection")
		}
	}
}

// requireOrchestrator reports a configuration error when sagas cannot run
func (app *Application) requireOrchestrator() error {
	if app.orchestrator == nil {
		return utils.NewAppError(utils.ErrCodeConfiguration,
			"Chain node, private key, marketplace and factory addresses are required", "")
	}
	return nil
}
