package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/smartdevs17/inft-marketplace/internal/config"
	"github.com/smartdevs17/inft-marketplace/internal/contracts"
	"github.com/smartdevs17/inft-marketplace/internal/devchain"
	"github.com/smartdevs17/inft-marketplace/internal/marketplace"
	"github.com/smartdevs17/inft-marketplace/internal/models"
	"github.com/smartdevs17/inft-marketplace/internal/reconcile"
	"github.com/smartdevs17/inft-marketplace/internal/saga"
	"github.com/smartdevs17/inft-marketplace/internal/storage"
	"github.com/smartdevs17/inft-marketplace/pkg/utils"
)

// AppVersion contains the application version
const AppVersion = "1.0.0"

// loadConfig reads configuration and initializes logging from it, with the
// command line flags taking precedence.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(viper.GetString("config"))
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if level := viper.GetString("log-level"); level != "" {
		cfg.Logging.Level = level
	}
	if format := viper.GetString("log-format"); format != "" {
		cfg.Logging.Format = format
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := utils.InitLogger(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.File); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, nil
}

func newApp() (*Application, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return NewApplication(cfg, nil)
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// CLI Commands

var rootCmd = &cobra.Command{
	Use:           "inft-market",
	Short:         "INFT marketplace listing and reconciliation service",
	Long:          `Creates, lists and sells tokenized AI agents and keeps the off-chain agent store consistent with the marketplace contract.`,
	Version:       AppVersion,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the marketplace watcher",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp()
		if err != nil {
			return err
		}

		signalChan := make(chan os.Signal, 1)
		signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)

		if err := app.Start(); err != nil {
			app.Stop()
			return fmt.Errorf("failed to start application: %w", err)
		}

		<-signalChan
		fmt.Println("\nReceived shutdown signal, stopping application...")
		app.Stop()
		return nil
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or upgrade the agent store schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, err := storage.Open(&cfg.Storage)
		if err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
		defer store.Close()

		fmt.Printf("Schema up to date (%s)\n", store.Backend())
		sqlite, ok := store.(*storage.SQLiteStorage)
		if !ok {
			return nil
		}
		if vacuum, _ := cmd.Flags().GetBool("vacuum"); vacuum {
			if err := sqlite.Vacuum(); err != nil {
				return err
			}
		}
		info, err := sqlite.GetDatabaseInfo()
		if err != nil {
			return err
		}
		return printJSON(info)
	},
}

var feesCmd = &cobra.Command{
	Use:   "fees",
	Short: "Show the platform fee and seller proceeds for a price in ether",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		price, _ := cmd.Flags().GetString("price")
		wei, err := models.PriceToWei(price)
		if err != nil {
			return utils.WrapError(utils.ErrCodeValidation, "Invalid price", err)
		}

		fee, seller := marketplace.CalculateFees(wei, cfg.Marketplace.FeeBps)
		return printJSON(map[string]interface{}{
			"price":        models.WeiToPrice(wei),
			"priceWei":     wei.String(),
			"feeBps":       cfg.Marketplace.FeeBps,
			"platformFee":  models.WeiToPrice(fee),
			"sellerAmount": models.WeiToPrice(seller),
		})
	},
}

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Recover ids from a mined transaction",
}

var reconcileListingCmd = &cobra.Command{
	Use:   "listing <tx-hash>",
	Short: "Recover the listing id created by a list transaction",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runReconcile(contextOf(cmd), args[0], func(e *reconcile.Engine, ctx context.Context, tx common.Hash) (interface{}, string, error) {
			res, err := e.RecoverListingID(ctx, tx)
			if err != nil {
				return nil, "", err
			}
			value := ""
			if res.Known() {
				value = fmt.Sprintf("%d", res.ListingID)
			}
			return res, reconcile.Describe("listing", res.Method, value, tx), nil
		})
	},
}

var reconcileContractCmd = &cobra.Command{
	Use:   "contract <tx-hash>",
	Short: "Recover the agent contract deployed by a createAgent transaction",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runReconcile(contextOf(cmd), args[0], func(e *reconcile.Engine, ctx context.Context, tx common.Hash) (interface{}, string, error) {
			res, err := e.RecoverContractAddress(ctx, tx)
			if err != nil {
				return nil, "", err
			}
			return res, reconcile.Describe("agent contract", res.Method, res.Hex(), tx), nil
		})
	},
}

type recoverFunc func(e *reconcile.Engine, ctx context.Context, tx common.Hash) (interface{}, string, error)

func runReconcile(ctx context.Context, rawHash string, fn recoverFunc) error {
	if !strings.HasPrefix(rawHash, "0x") || len(rawHash) != 66 {
		return utils.NewAppError(utils.ErrCodeValidation, "Invalid transaction hash", rawHash)
	}
	app, err := newApp()
	if err != nil {
		return err
	}
	defer app.Stop()
	if app.engine == nil {
		return utils.NewAppError(utils.ErrCodeConfiguration, "Chain node and marketplace address are required", "")
	}

	result, message, err := fn(app.engine, ctx, common.HexToHash(rawHash))
	if err != nil {
		return err
	}
	fmt.Println(message)
	return printJSON(result)
}

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Create an agent contract, mint, approve and list it",
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := createRequestFromFlags(cmd)
		if err != nil {
			return err
		}
		app, err := newApp()
		if err != nil {
			return err
		}
		defer app.Stop()
		if err := app.requireOrchestrator(); err != nil {
			return err
		}

		result, err := app.orchestrator.CreateAndList(contextOf(cmd), *req)
		if err != nil {
			return err
		}
		return printJSON(result)
	},
}

// createRequestFromFlags reads --metadata as a JSON file, with --price and
// --name overriding it.
func createRequestFromFlags(cmd *cobra.Command) (*saga.CreateRequest, error) {
	req := &saga.CreateRequest{}
	if path, _ := cmd.Flags().GetString("metadata"); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read metadata: %w", err)
		}
		if err := json.Unmarshal(raw, req); err != nil {
			return nil, utils.WrapError(utils.ErrCodeValidation, "Invalid metadata file", err)
		}
	}
	if price, _ := cmd.Flags().GetString("price"); price != "" {
		req.Price = price
	}
	if name, _ := cmd.Flags().GetString("name"); name != "" {
		req.Name = name
	}
	return req, nil
}

var buyCmd = &cobra.Command{
	Use:   "buy",
	Short: "Buy a listed agent with the configured account",
	RunE: func(cmd *cobra.Command, args []string) error {
		agentID, _ := cmd.Flags().GetString("agent")
		app, err := newApp()
		if err != nil {
			return err
		}
		defer app.Stop()
		if err := app.requireOrchestrator(); err != nil {
			return err
		}

		result, err := app.orchestrator.Purchase(contextOf(cmd), saga.PurchaseRequest{AgentID: agentID})
		if err != nil {
			return err
		}
		return printJSON(result)
	},
}

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Run create, list and buy against an in-process chain",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return runDemo(contextOf(cmd), cfg)
	},
}

// runDemo drives both sagas on a devchain with a memory store
func runDemo(ctx context.Context, cfg *config.Config) error {
	chain := devchain.New(devchain.Options{FeeBps: &cfg.Marketplace.FeeBps})

	cfg.Storage = config.StorageConfig{Type: "memory"}
	cfg.Pinning.Provider = "none"
	cfg.Chain.MarketplaceAddress = chain.Marketplace().Hex()
	cfg.Chain.FactoryAddress = chain.Factory().Hex()
	cfg.Chain.CreationFee = models.WeiToPrice(devchain.DefaultCreationFee)
	cfg.Reconcile.ReceiptDelay = 0
	cfg.Monitor.Enabled = false

	app, err := NewApplication(cfg, chain)
	if err != nil {
		return err
	}
	defer app.Stop()

	created, err := app.orchestrator.CreateAndList(ctx, saga.CreateRequest{
		Name:         "Demo Agent",
		Description:  "Created by the demo command",
		Category:     "Demo",
		Capabilities: []string{"chat", "summarize"},
		Price:        "0.05",
	})
	if err != nil {
		return err
	}
	fmt.Println("Created and listed:")
	if err := printJSON(created); err != nil {
		return err
	}

	buyer := common.HexToAddress("0x00000000000000000000000000000000000b0b01")
	buyerChain := chain.As(buyer)
	deps := app.orchestrator.Deps
	deps.Client = buyerChain
	deps.Marketplace = contracts.NewMarketplace(buyerChain, chain.Marketplace())
	deps.Factory = contracts.NewFactory(buyerChain, chain.Factory())
	deps.NFT = contracts.NewAgentNFT(buyerChain)
	buyerSaga := saga.New(deps, saga.DefaultConfig(), nil)

	bought, err := buyerSaga.Purchase(ctx, saga.PurchaseRequest{AgentID: created.Agent.ID})
	if err != nil {
		return err
	}
	fmt.Println("Purchased:")
	if err := printJSON(bought); err != nil {
		return err
	}

	fmt.Printf("Fee recipient balance: %s\n", models.WeiToPrice(chain.Market().Balance(devchain.DefaultFeeRecipient)))
	return nil
}

func contextOf(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("INFT Marketplace %s\n", AppVersion)
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
}

var validateConfigCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("configuration validation failed: %w", err)
		}

		fmt.Printf("Configuration is valid!\n")
		fmt.Printf("Environment: %s\n", cfg.App.Environment)
		fmt.Printf("Chain node: %s\n", cfg.Chain.NodeURL)
		fmt.Printf("Chain features: %t\n", cfg.ChainEnabled())
		fmt.Printf("Database: %s\n", cfg.Storage.Type)
		fmt.Printf("Pinning: %s\n", cfg.Pinning.Provider)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringP("log-level", "l", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "", "log format (json, text)")

	viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("log-format", rootCmd.PersistentFlags().Lookup("log-format"))

	migrateCmd.Flags().Bool("vacuum", false, "compact the SQLite file after migrating")

	feesCmd.Flags().String("price", "", "listing price in ether")
	feesCmd.MarkFlagRequired("price")

	createCmd.Flags().String("metadata", "", "path to a JSON file with the agent fields")
	createCmd.Flags().String("name", "", "agent name")
	createCmd.Flags().String("price", "", "listing price in ether")

	buyCmd.Flags().String("agent", "", "id of the agent to buy")
	buyCmd.MarkFlagRequired("agent")

	reconcileCmd.AddCommand(reconcileListingCmd, reconcileContractCmd)
	configCmd.AddCommand(validateConfigCmd)
	rootCmd.AddCommand(serveCmd, migrateCmd, feesCmd, reconcileCmd, createCmd, buyCmd, demoCmd, versionCmd, configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
