package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/renderlite/renderlite/pkg/config"
	"github.com/renderlite/renderlite/pkg/events"
	"github.com/renderlite/renderlite/pkg/log"
	"github.com/renderlite/renderlite/pkg/metrics"
	"github.com/renderlite/renderlite/pkg/queue"
	"github.com/renderlite/renderlite/pkg/secrets"
	"github.com/renderlite/renderlite/pkg/store"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var (
	configPath string
	logLevel   string
	logJSON    bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "renderlite",
	Short: "RenderLite - push-to-deploy platform for a single Docker host",
	Long: `RenderLite turns one Docker host into a small deployment platform:
push to a git branch and get a built container running behind its own
subdomain, with logs and status streamed live.

The same binary runs both halves of the system. "renderlite server"
serves the REST/SSE API and the background sweeps; "renderlite worker"
consumes the deployment queues and drives builds. The two processes
share nothing but SQLite and Redis, so either can restart on its own.`,
	Version: Version,
}

func init() {
	// Set version template
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"RenderLite version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (env vars override)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "Emit JSON logs instead of console output")

	// Add subcommands
	rootCmd.AddCommand(serverCmd)
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("RenderLite version %s\nCommit: %s\nBuilt: %s\n", Version, Commit, BuildTime)
	},
}

// setup loads configuration and initializes process-wide logging. Every
// subcommand that runs a process calls this first.
func setup() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %v", err)
	}
	log.Init(log.Config{Level: log.Level(logLevel), JSONOutput: logJSON})
	metrics.SetVersion(Version)
	return cfg, nil
}

// core holds the infrastructure both processes need: the SQLite store,
// the Redis connection, and everything layered directly on those two.
type core struct {
	cfg *config.Config
	st  *store.SQLStore
	rdb *redis.Client
	q   *queue.Queue
	sec *secrets.Manager
	bus *events.Bus
}

// openCore connects to SQLite and Redis and fails fast if either is
// missing. The encryption key is checked here too: without it neither
// process can read service env vars, so refusing to start beats
// failing on the first deployment.
func openCore(cfg *config.Config) (*core, error) {
	key, err := cfg.DecodeEncryptionKey()
	if err != nil {
		return nil, err
	}
	sec, err := secrets.NewManager(key)
	if err != nil {
		return nil, err
	}

	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open store at %s: %v", cfg.DatabasePath, err)
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("invalid redis URL: %v", err)
	}
	rdb := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		_ = st.Close()
		return nil, fmt.Errorf("failed to reach redis at %s: %v", cfg.RedisURL, err)
	}

	return &core{
		cfg: cfg,
		st:  st,
		rdb: rdb,
		q:   queue.New(rdb),
		sec: sec,
		bus: events.NewBus(rdb),
	}, nil
}

// close releases the shared infrastructure. Redis goes first so nothing
// racing a publish sees a closed database.
func (c *core) close() {
	if err := c.rdb.Close(); err != nil {
		log.Errorf("Failed to close redis client", err)
	}
	if err := c.st.Close(); err != nil {
		log.Errorf("Failed to close store", err)
	}
}
