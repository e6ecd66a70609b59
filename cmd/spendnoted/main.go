package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	flag "github.com/spf13/pflag"
	"github.com/spf13/viper"

	"go.vocdoni.io/spendnote/api"
	"go.vocdoni.io/spendnote/commitment"
	"go.vocdoni.io/spendnote/config"
	"go.vocdoni.io/spendnote/coordinator"
	"go.vocdoni.io/spendnote/httprouter"
	"go.vocdoni.io/spendnote/ledger"
	"go.vocdoni.io/spendnote/ledger/ethledger"
	"go.vocdoni.io/spendnote/ledger/memledger"
	"go.vocdoni.io/spendnote/log"
	"go.vocdoni.io/spendnote/metrics"
	"go.vocdoni.io/spendnote/notestore"
	"go.vocdoni.io/spendnote/nullifier"
	"go.vocdoni.io/spendnote/prover"
	"go.vocdoni.io/spendnote/types"
	"go.vocdoni.io/spendnote/util"
)

// Version is set at build time with -ldflags "-X main.Version=..."
var Version = "dev"

// nullifierKeyInfo is the HKDF context of the nullifier encryption key.
const nullifierKeyInfo = "spendnote nullifier key v1"

func newConfig() (*config.NodeCfg, config.Error) {
	var err error
	var cfgError config.Error
	// create base config
	globalCfg := config.NewConfig()
	// get current user home dir
	home, err := os.UserHomeDir()
	if err != nil {
		cfgError = config.Error{
			Critical: true,
			Message:  fmt.Sprintf("cannot get user home directory with error: %s", err),
		}
		return nil, cfgError
	}

	// CLI flags will be used if something fails from this point
	// CLI flags have preference over the config file
	// Booleans should be passed to the CLI as: var=True/false

	// global
	flag.StringVarP(&globalCfg.DataDir, "dataDir", "d", home+"/.spendnote",
		"directory where data is stored")
	flag.StringVarP(&globalCfg.DBType, "dbType", "t", config.DefaultDBType,
		"commitment storage type (pebble, leveldb, sqlite)")
	flag.BoolVar(&globalCfg.Dev, "dev", false,
		"use developer mode (allows the mock prover, less security)")
	flag.StringP("logLevel", "l", "info",
		"log level (debug, info, warn, error, fatal)")
	flag.String("logOutput", "stdout",
		"log output (stdout, stderr or filepath)")
	flag.String("logErrorFile", "",
		"log errors and warnings to a file")
	flag.Bool("saveConfig", false,
		"overwrite an existing config file with the provided CLI flags")
	flag.String("defaultAmount", config.DefaultAmount,
		"note amount in wei used when an issue request sets none")
	flag.String("nullifierSecret", "",
		"secret the nullifier encryption key is derived from (generated if empty)")
	// api
	flag.String("apiRoute", config.DefaultAPIRoute, "HTTP API base route")
	flag.String("listenHost", "0.0.0.0", "API endpoint listen address")
	flag.IntP("listenPort", "p", config.DefaultListenPort, "API endpoint http port")
	flag.String("adminToken", "", "bearer token allowed to issue notes (generated if empty)")
	flag.String("linkBaseURL", "", "claim page base url, used to build claim urls")
	flag.Int("maxLinkTTL", config.DefaultMaxLinkTTLMinutes, "longest claim link validity a request may ask for, in minutes")
	flag.String("sslDomain", "",
		"enable TLS-secure domain with LetsEncrypt (listenPort=443 is required)")
	// ledger
	flag.String("ledger", config.LedgerMemory, "ledger type (memory, ethereum)")
	flag.String("ledgerEndpoint", "", "ethereum JSON-RPC endpoint")
	flag.String("ledgerContract", "", "spend note contract address")
	flag.String("ledgerSigningKey", "", "hex private key sending the ledger transactions")
	flag.Int64("ledgerChainID", 0, "ethereum chain id (zero asks the endpoint)")
	flag.Uint64("ledgerMaxRetries", config.DefaultLedgerMaxRetries, "retries of a failing ledger call")
	flag.Int("spentCacheSize", config.DefaultSpentCacheSize, "spent nullifiers kept in memory")
	// prover
	flag.String("proverMode", prover.ModeExternal, "spend prover (external, or mock with --dev)")
	flag.String("proverPath", config.DefaultProverPath, "external prover program")
	flag.Int("proverTimeout", config.DefaultProverTimeoutSeconds, "external prover timeout in seconds")
	// metrics
	flag.Bool("metricsEnabled", false, "enable prometheus metrics")

	flag.CommandLine.SortFlags = false
	// parse flags
	flag.Parse()

	// setting up viper
	viper := viper.New()
	viper.SetConfigName(config.DefaultConfigName)
	viper.SetConfigType("yml")
	viper.SetEnvPrefix("SPENDNOTE")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set FlagVars first
	viper.BindPFlag("dataDir", flag.Lookup("dataDir"))
	globalCfg.DataDir = viper.GetString("dataDir")
	viper.BindPFlag("dev", flag.Lookup("dev"))
	globalCfg.Dev = viper.GetBool("dev")

	// Add viper config path (now we know it)
	viper.AddConfigPath(globalCfg.DataDir)

	// binding flags to viper
	// global
	viper.BindPFlag("dbType", flag.Lookup("dbType"))
	viper.BindPFlag("logLevel", flag.Lookup("logLevel"))
	viper.BindPFlag("logErrorFile", flag.Lookup("logErrorFile"))
	viper.BindPFlag("logOutput", flag.Lookup("logOutput"))
	viper.BindPFlag("saveConfig", flag.Lookup("saveConfig"))
	viper.BindPFlag("defaultAmount", flag.Lookup("defaultAmount"))
	viper.BindPFlag("nullifierSecret", flag.Lookup("nullifierSecret"))

	// api
	viper.BindPFlag("api.Route", flag.Lookup("apiRoute"))
	viper.BindPFlag("api.ListenHost", flag.Lookup("listenHost"))
	viper.BindPFlag("api.ListenPort", flag.Lookup("listenPort"))
	viper.BindPFlag("api.AdminToken", flag.Lookup("adminToken"))
	viper.BindPFlag("api.LinkBaseURL", flag.Lookup("linkBaseURL"))
	viper.BindPFlag("api.MaxLinkTTLMinutes", flag.Lookup("maxLinkTTL"))
	viper.Set("api.Ssl.DirCert", globalCfg.DataDir+"/tls")
	viper.BindPFlag("api.Ssl.Domain", flag.Lookup("sslDomain"))

	// ledger
	viper.BindPFlag("ledger.Type", flag.Lookup("ledger"))
	viper.BindPFlag("ledger.Endpoint", flag.Lookup("ledgerEndpoint"))
	viper.BindPFlag("ledger.Contract", flag.Lookup("ledgerContract"))
	viper.BindPFlag("ledger.SigningKey", flag.Lookup("ledgerSigningKey"))
	viper.BindPFlag("ledger.ChainID", flag.Lookup("ledgerChainID"))
	viper.BindPFlag("ledger.MaxRetries", flag.Lookup("ledgerMaxRetries"))
	viper.BindPFlag("ledger.SpentCacheSize", flag.Lookup("spentCacheSize"))

	// prover
	viper.BindPFlag("prover.Mode", flag.Lookup("proverMode"))
	viper.BindPFlag("prover.Path", flag.Lookup("proverPath"))
	viper.BindPFlag("prover.TimeoutSeconds", flag.Lookup("proverTimeout"))

	// metrics
	viper.BindPFlag("metrics.Enabled", flag.Lookup("metricsEnabled"))

	// check if config file exists
	_, err = os.Stat(filepath.Join(globalCfg.DataDir, config.DefaultConfigName+".yml"))
	if os.IsNotExist(err) {
		cfgError = config.Error{
			Message: fmt.Sprintf("creating new config file in %s", globalCfg.DataDir),
		}
		// creating config folder if not exists
		err = os.MkdirAll(globalCfg.DataDir, os.ModePerm)
		if err != nil {
			cfgError = config.Error{
				Message: fmt.Sprintf("cannot create data directory: %s", err),
			}
		}
		// create config file if not exists
		if err := viper.SafeWriteConfig(); err != nil {
			cfgError = config.Error{
				Message: fmt.Sprintf("cannot write config file into config dir: %s", err),
			}
		}
	} else {
		// read config file
		err = viper.ReadInConfig()
		if err != nil {
			cfgError = config.Error{
				Message: fmt.Sprintf("cannot read loaded config file in %s: %s", globalCfg.DataDir, err),
			}
		}
	}
	err = viper.Unmarshal(&globalCfg)
	if err != nil {
		cfgError = config.Error{
			Message: fmt.Sprintf("cannot unmarshal loaded config file: %s", err),
		}
	}

	// secrets generated on first run are kept in the config file, so
	// that restarts can verify the notes and links issued before
	if globalCfg.NullifierSecret == "" {
		fmt.Println("no nullifier secret, generating one...")
		globalCfg.NullifierSecret = util.RandomHex(32)
		viper.Set("nullifierSecret", globalCfg.NullifierSecret)
		globalCfg.SaveConfig = true
	}
	if globalCfg.API.AdminToken == "" {
		globalCfg.API.AdminToken = uuid.New().String()
		fmt.Printf("no admin token, generated %s\n", globalCfg.API.AdminToken)
		viper.Set("api.AdminToken", globalCfg.API.AdminToken)
		globalCfg.SaveConfig = true
	}

	if globalCfg.SaveConfig {
		viper.Set("saveConfig", false)
		if err := viper.WriteConfig(); err != nil {
			cfgError = config.Error{
				Message: fmt.Sprintf("cannot overwrite config file into config dir: %s", err),
			}
		}
	}

	return globalCfg, cfgError
}

func newLedger(ctx context.Context, cfg *config.LedgerCfg) (ledger.Ledger, error) {
	var l ledger.Ledger
	switch cfg.Type {
	case config.LedgerEthereum:
		contract, err := util.ParseAddress(cfg.Contract)
		if err != nil {
			return nil, fmt.Errorf("invalid ledger contract: %w", err)
		}
		var chainID *big.Int
		if cfg.ChainID != 0 {
			chainID = big.NewInt(cfg.ChainID)
		}
		el, err := ethledger.New(ctx, ethledger.Config{
			Endpoint:   cfg.Endpoint,
			Contract:   contract,
			PrivateKey: cfg.SigningKey,
			ChainID:    chainID,
			MaxRetries: cfg.MaxRetries,
		})
		if err != nil {
			return nil, err
		}
		l = el
	default:
		log.Warn("using the in-memory ledger, notes and payments are lost on restart")
		l = memledger.New()
	}
	return ledger.NewSpentCache(l, cfg.SpentCacheSize), nil
}

func main() {
	// Don't use the log package here, because we want to report the version
	// before loading the config.
	fmt.Fprintf(os.Stderr, "spendnote node version %q\n", Version)

	// setup config
	// creating config and init logger
	globalCfg, cfgErr := newConfig()
	if globalCfg == nil {
		log.Fatal("cannot read configuration")
	}
	log.Init(globalCfg.LogLevel, globalCfg.LogOutput)
	if path := globalCfg.LogErrorFile; path != "" {
		if err := log.SetFileErrorLog(path); err != nil {
			log.Fatal(err)
		}
	}

	// check if errors during config creation and determine if Critical
	if cfgErr.Critical && cfgErr.Message != "" {
		log.Fatalf("critical error loading config: %s", cfgErr.Message)
	} else if !cfgErr.Critical && cfgErr.Message != "" {
		log.Warnf("non-critical error loading config: %s", cfgErr.Message)
	} else if !cfgErr.Critical && cfgErr.Message == "" {
		log.Infof("config file loaded successfully. Reminder: CLI flags have preference")
	}
	if err := globalCfg.Validate(); err != nil {
		log.Fatal(err)
	}
	if globalCfg.Dev {
		log.Warn("developer mode is enabled!")
	}
	log.Infof("starting spendnote node version %q", Version)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	defaultAmount, err := types.ParseAmount(globalCfg.DefaultAmount)
	if err != nil || defaultAmount.Sign() <= 0 {
		log.Fatalf("invalid default amount %q", globalCfg.DefaultAmount)
	}

	// commitment tree storage
	store, err := notestore.Open(globalCfg.DBType, filepath.Join(globalCfg.DataDir, "storage"))
	if err != nil {
		log.Fatal(err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Warnf("cannot close storage: %v", err)
		}
	}()

	secret, err := hex.DecodeString(util.TrimHex(globalCfg.NullifierSecret))
	if err != nil {
		// not hex, use the raw string
		secret = []byte(globalCfg.NullifierSecret)
	}
	km, err := nullifier.DeriveKeyMaterial(secret, nullifierKeyInfo)
	if err != nil {
		log.Fatal(err)
	}

	broker, err := prover.NewBroker(globalCfg.Prover.BrokerConfig(globalCfg.Dev))
	if err != nil {
		log.Fatal(err)
	}

	l, err := newLedger(ctx, globalCfg.Ledger)
	if err != nil {
		log.Fatal(err)
	}

	coord := coordinator.New(nullifier.NewEngine(km), commitment.New(store), broker, l,
		coordinator.Config{
			DefaultAmount: defaultAmount,
			LinkBaseURL:   globalCfg.API.LinkBaseURL,
		})
	if err := coord.Start(ctx); err != nil {
		log.Fatalf("cannot start coordinator: %v", err)
	}

	// Initialize the HTTP router
	var httpRouter httprouter.HTTProuter
	httpRouter.TLSdomain = globalCfg.API.Ssl.Domain
	httpRouter.TLSdirCert = globalCfg.API.Ssl.DirCert
	if err := httpRouter.Init(globalCfg.API.ListenHost, globalCfg.API.ListenPort); err != nil {
		log.Fatal(err)
	}
	// metrics middleware must be set before any route
	if globalCfg.Metrics.Enabled {
		metrics.NewAgent(metrics.DefaultPath, &httpRouter)
	}

	log.Info("enabling API")
	uAPI, err := api.NewAPI(&httpRouter, globalCfg.API.Route)
	if err != nil {
		log.Fatal(err)
	}
	uAPI.Attach(coord)
	if err := uAPI.EnableHandlers(api.NotesHandler, api.ClaimsHandler); err != nil {
		log.Fatal(err)
	}
	uAPI.SetMaxLinkTTL(globalCfg.API.MaxLinkTTLMinutes)
	uAPI.Endpoint.SetAdminToken(globalCfg.API.AdminToken)
	log.Infow("startup complete", "api", fmt.Sprintf("%s%s", httpRouter.Address(), globalCfg.API.Route),
		"maxLinkTTL", time.Duration(globalCfg.API.MaxLinkTTLMinutes)*time.Minute)

	// close if interrupt received
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c
	log.Warnf("received SIGTERM, exiting at %s", time.Now().Format(time.RFC850))
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpRouter.Shutdown(shutdownCtx); err != nil {
		log.Warnf("cannot shutdown http router: %v", err)
	}
}
