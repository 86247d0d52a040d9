package node

import (
	"context"
	"fmt"
	"net"
	"reflect"
	"runtime"
	"strconv"
	"time"

	"github.com/NethermindEth/starktrie/core/state"
	"github.com/NethermindEth/starktrie/core/trie"
	"github.com/NethermindEth/starktrie/db"
	"github.com/NethermindEth/starktrie/db/memory"
	"github.com/NethermindEth/starktrie/db/pebble"
	"github.com/NethermindEth/starktrie/rpc"
	"github.com/NethermindEth/starktrie/utils"
	"github.com/NethermindEth/starktrie/validator"
	"github.com/sourcegraph/conc"
)

const (
	defaultPruneInterval = time.Minute
	defaultMetricsPort   = 9090
)

// Config is the top-level starktrie configuration.
type Config struct {
	LogLevel utils.LogLevel `mapstructure:"log-level"`
	Colour   bool           `mapstructure:"colour"`

	// An empty DatabasePath keeps everything in memory.
	DatabasePath  string `mapstructure:"db-path"`
	DBCacheSize   uint   `mapstructure:"db-cache-size"`
	DBMaxHandles  int    `mapstructure:"db-max-handles" validate:"gte=0"`
	NodeCacheSize int    `mapstructure:"node-cache-size" validate:"gte=0"`

	// Retention is the number of most recent heights kept provable. Zero keeps every height.
	Retention     uint64        `mapstructure:"retention"`
	PruneInterval time.Duration `mapstructure:"prune-interval" validate:"gte=0"`

	ProofKeyLimit uint64 `mapstructure:"proof-key-limit" validate:"gt=0"`
	ProofWorkers  int    `mapstructure:"proof-workers" validate:"gte=0"`

	Metrics     bool   `mapstructure:"metrics"`
	MetricsHost string `mapstructure:"metrics-host" validate:"required_if=Metrics true"`
	MetricsPort uint16 `mapstructure:"metrics-port"`
}

func DefaultConfig() Config {
	return Config{
		LogLevel:      utils.INFO,
		Colour:        true,
		DBCacheSize:   1024,
		PruneInterval: defaultPruneInterval,
		ProofKeyLimit: state.DefaultProofKeyLimit,
		MetricsHost:   "localhost",
		MetricsPort:   defaultMetricsPort,
	}
}

type service interface {
	Run(ctx context.Context) error
}

type Node struct {
	cfg   *Config
	db    db.KeyValueStore
	store *trie.Store
	chain *state.Chain
	rpc   *rpc.Handler

	services []service
	log      utils.Logger
}

// New validates the config, opens the database and assembles the chain and its RPC handler.
func New(cfg *Config) (*Node, error) {
	if err := validator.Validator().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	log, err := utils.NewZapLogger(cfg.LogLevel, cfg.Colour)
	if err != nil {
		return nil, err
	}

	database, err := openDB(cfg)
	if err != nil {
		return nil, fmt.Errorf("open DB: %w", err)
	}

	n, err := assemble(cfg, database, log)
	if err != nil {
		return nil, utils.RunAndWrapOnError(database.Close, err)
	}
	return n, nil
}

func openDB(cfg *Config) (db.KeyValueStore, error) {
	if cfg.DatabasePath == "" {
		return memory.New(), nil
	}

	dbLog, err := utils.NewZapLogger(utils.ERROR, cfg.Colour)
	if err != nil {
		return nil, fmt.Errorf("create DB logger: %w", err)
	}
	opts := []pebble.Option{
		pebble.WithCacheSize(cfg.DBCacheSize),
		pebble.WithLogger(dbLog),
	}
	if cfg.DBMaxHandles > 0 {
		opts = append(opts, pebble.WithMaxOpenFiles(cfg.DBMaxHandles))
	}
	return pebble.New(cfg.DatabasePath, opts...)
}

func assemble(cfg *Config, database db.KeyValueStore, log utils.Logger) (*Node, error) {
	store, err := trie.NewStore(database, cfg.NodeCacheSize, log)
	if err != nil {
		return nil, fmt.Errorf("create node store: %w", err)
	}

	workers := cfg.ProofWorkers
	if workers == 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	chain, err := state.New(database, store, log,
		state.WithRetention(cfg.Retention),
		state.WithProofKeyLimit(cfg.ProofKeyLimit),
		state.WithProofWorkers(workers),
	)
	if err != nil {
		return nil, fmt.Errorf("load chain: %w", err)
	}

	n := &Node{
		cfg:   cfg,
		db:    database,
		store: store,
		chain: chain,
		rpc:   rpc.New(chain, log),
		log:   log,
	}

	if cfg.Retention > 0 && cfg.PruneInterval > 0 {
		n.services = append(n.services, &pruner{chain: chain, interval: cfg.PruneInterval, log: log})
	}
	if cfg.Metrics {
		listener, err := net.Listen("tcp", net.JoinHostPort(cfg.MetricsHost, strconv.Itoa(int(cfg.MetricsPort))))
		if err != nil {
			return nil, fmt.Errorf("listen on metrics port: %w", err)
		}
		n.services = append(n.services, makeMetrics(listener))
	}
	return n, nil
}

// Run applies the updates received on feed, if any, and runs the background services until
// ctx is cancelled, the feed is closed or a service fails. It returns the error of a block that
// failed to apply. The DB is closed on return.
func (n *Node) Run(ctx context.Context, feed <-chan *state.BlockUpdate) error {
	defer func() {
		if closeErr := n.db.Close(); closeErr != nil {
			n.log.Errorw("Error while closing the DB", "err", closeErr)
		}
	}()

	ctx, cancel := context.WithCancel(ctx)
	wg := conc.NewWaitGroup()
	for _, s := range n.services {
		wg.Go(func() {
			if err := s.Run(ctx); err != nil {
				n.log.Errorw("Service error", "name", reflect.TypeOf(s), "err", err)
				cancel()
			}
		})
	}
	defer wg.Wait()

	var followErr error
	if feed != nil {
		if err := n.chain.Follow(ctx, feed); err != nil && ctx.Err() == nil {
			n.log.Errorw("Failed to apply block", "err", err)
			followErr = err
		}
		cancel()
	}

	<-ctx.Done()
	cancel()
	n.log.Infow("Shutting down starktrie...")
	return followErr
}

func (n *Node) Config() Config {
	return *n.cfg
}

func (n *Node) Chain() *state.Chain {
	return n.chain
}

func (n *Node) RPC() *rpc.Handler {
	return n.rpc
}

func (n *Node) DB() db.KeyValueStore {
	return n.db
}

// Close releases the DB of a node that is not going to be Run.
func (n *Node) Close() error {
	return n.db.Close()
}
