// Command brokersync provisions MQTT credentials for tracker devices and
// keeps a Mosquitto broker's password and ACL files in step with them.
//
// It serves the admin API, syncs on a schedule while changes are pending,
// and can optionally launch and supervise the broker itself.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	_ "github.com/nerrad567/tracker-broker-core/migrations"

	"github.com/nerrad567/tracker-broker-core/internal/api"
	"github.com/nerrad567/tracker-broker-core/internal/audit"
	"github.com/nerrad567/tracker-broker-core/internal/brokersync"
	"github.com/nerrad567/tracker-broker-core/internal/credential"
	"github.com/nerrad567/tracker-broker-core/internal/device"
	"github.com/nerrad567/tracker-broker-core/internal/infrastructure/config"
	"github.com/nerrad567/tracker-broker-core/internal/infrastructure/database"
	"github.com/nerrad567/tracker-broker-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/tracker-broker-core/internal/infrastructure/logging"
	"github.com/nerrad567/tracker-broker-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/tracker-broker-core/internal/notify"
	"github.com/nerrad567/tracker-broker-core/internal/process"
)

// Version information, set at build time via ldflags:
// go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const (
	defaultConfigPath = "configs/config.yaml"
	configEnv         = "TRACKER_CONFIG"
)

// options are the command-line flags.
type options struct {
	configPath  string
	syncOnce    bool
	showVersion bool
}

func main() {
	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}
	if opts.showVersion {
		fmt.Printf("brokersync %s (commit %s, built %s)\n", version, commit, date)
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, opts); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags(args []string) (options, error) {
	var opts options
	fs := pflag.NewFlagSet("brokersync", pflag.ContinueOnError)
	fs.StringVarP(&opts.configPath, "config", "c", getConfigPath(), "path to the YAML configuration file (env "+configEnv+")")
	fs.BoolVar(&opts.syncOnce, "sync-once", false, "run one sync and exit, non-zero on failure")
	fs.BoolVar(&opts.showVersion, "version", false, "print version information and exit")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if fs.NArg() > 0 {
		return options{}, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	return opts, nil
}

func getConfigPath() string {
	if path := os.Getenv(configEnv); path != "" {
		return path
	}
	return defaultConfigPath
}

// run wires the service together and blocks until ctx is cancelled.
func run(ctx context.Context, opts options) error {
	log := logging.Default()
	log.Info("starting brokersync",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", opts.configPath)

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// Optional outputs first, so the audit hook and sync observers can use them.
	mqttClient, err := connectMQTT(cfg, log)
	if err != nil {
		return err
	}
	if mqttClient != nil {
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
	}

	influxClient, err := connectInfluxDB(cfg, log)
	if err != nil {
		return err
	}
	if influxClient != nil {
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
	}

	store := credential.NewStore(db, cfg.Broker.TopicPrefix)
	devices := device.NewSQLiteDirectory(db.DB)
	events := provisioningEvents(mqttClient, influxClient, log.Component("events"))
	defer events.Close()
	auditRepo := audit.WithHooks(audit.NewSQLiteRepository(db.DB), events.Hook)

	service, err := newCredentialService(cfg, store, devices, auditRepo, log)
	if err != nil {
		return err
	}

	var proc *process.Manager
	if cfg.Broker.Process.Managed {
		proc = newBrokerProcess(cfg.Broker.Process, log)
	}

	syncer, err := newSyncer(cfg, store, auditRepo, proc, mqttClient, influxClient, log)
	if err != nil {
		return err
	}

	if opts.syncOnce {
		return syncOnce(ctx, syncer, log)
	}

	if proc != nil {
		// The broker must start with current files, not stale ones.
		if _, syncErr := syncer.Sync(ctx); syncErr != nil {
			log.Warn("initial sync before broker start failed", "error", syncErr)
		}
		if startErr := proc.Start(ctx); startErr != nil {
			return fmt.Errorf("starting broker: %w", startErr)
		}
		defer func() {
			log.Info("stopping broker")
			if stopErr := proc.Stop(); stopErr != nil {
				log.Error("error stopping broker", "error", stopErr)
			}
		}()
		log.Info("broker started", "binary", cfg.Broker.Process.Binary)
	}

	scheduler := brokersync.NewScheduler(syncer, store.Status, cfg.Sync, log.Component("scheduler"))
	schedCtx, stopScheduler := context.WithCancel(ctx)
	schedulerDone := make(chan struct{})
	go func() {
		defer close(schedulerDone)
		scheduler.Run(schedCtx)
	}()
	defer func() {
		stopScheduler()
		<-schedulerDone
	}()

	if mqttClient != nil {
		topic := mqttClient.Topics().BrokerSyncRequest()
		if subErr := mqttClient.Subscribe(topic, 1, scheduler.HandleSyncRequest); subErr != nil {
			return fmt.Errorf("subscribing to %s: %w", topic, subErr)
		}
		defer func() {
			if unsubErr := mqttClient.Unsubscribe(topic); unsubErr != nil {
				log.Warn("error unsubscribing from sync requests", "topic", topic, "error", unsubErr)
			}
		}()
		log.Info("listening for sync requests", "topic", topic)
	}

	if cfg.API.Enabled {
		deps := api.Deps{
			Config:      cfg.API,
			Logger:      log.Component("api"),
			Credentials: service,
			Syncer:      syncer,
			Devices:     devices,
			Audit:       auditRepo,
			Version:     version,
		}
		if proc != nil {
			deps.Broker = proc
		}
		apiServer, apiErr := api.New(deps)
		if apiErr != nil {
			return fmt.Errorf("creating API server: %w", apiErr)
		}
		if startErr := apiServer.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			log.Info("stopping API server")
			if closeErr := apiServer.Close(); closeErr != nil {
				log.Error("error stopping API server", "error", closeErr)
			}
		}()
	} else {
		log.Info("API server disabled")
	}

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	return nil
}

func connectMQTT(cfg *config.Config, log *logging.Logger) (*mqtt.Client, error) {
	if !cfg.MQTT.Enabled {
		log.Info("MQTT disabled")
		return nil, nil
	}
	client, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return nil, fmt.Errorf("connecting to MQTT: %w", err)
	}
	client.SetLogger(log.Component("mqtt"))
	client.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	client.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)
	return client, nil
}

func connectInfluxDB(cfg *config.Config, log *logging.Logger) (*influxdb.Client, error) {
	if !cfg.InfluxDB.Enabled {
		log.Info("InfluxDB disabled")
		return nil, nil
	}
	client, err := influxdb.Connect(cfg.InfluxDB)
	if err != nil {
		return nil, fmt.Errorf("connecting to InfluxDB: %w", err)
	}
	client.SetOnError(func(err error) {
		log.Error("InfluxDB write error", "error", err)
	})
	log.Info("InfluxDB connected",
		"url", cfg.InfluxDB.URL,
		"org", cfg.InfluxDB.Org,
		"bucket", cfg.InfluxDB.Bucket,
	)
	return client, nil
}

func newCredentialService(cfg *config.Config, store *credential.Store, devices *device.SQLiteDirectory,
	auditRepo audit.Repository, log *logging.Logger) (*credential.Service, error) {
	deps := credential.ServiceDeps{
		Store:    store,
		Devices:  devices,
		Contacts: devices,
		Audit:    auditRepo,
		Logger:   log.Component("credential"),

		ReservedUsernames: []string{cfg.Broker.Admin.Username},
	}

	mailer, err := notify.NewSMTPMailer(cfg.SMTP, cfg.Broker.PublicURL, log.Component("notify"))
	switch {
	case err == nil:
		deps.Notifier = mailer
		log.Info("credential mail enabled", "smtp_host", cfg.SMTP.Host)
	case errors.Is(err, notify.ErrDisabled):
		log.Info("credential mail disabled")
	default:
		return nil, fmt.Errorf("configuring credential mail: %w", err)
	}

	service, err := credential.NewService(deps)
	if err != nil {
		return nil, fmt.Errorf("creating credential service: %w", err)
	}
	return service, nil
}

func newBrokerProcess(cfg config.BrokerProcessConfig, log *logging.Logger) *process.Manager {
	pcfg := process.DefaultConfig("mosquitto", cfg.Binary, cfg.Args)
	pcfg.RestartOnFailure = cfg.RestartOnFailure
	if cfg.RestartDelaySeconds > 0 {
		pcfg.RestartDelay = time.Duration(cfg.RestartDelaySeconds) * time.Second
	}
	pcfg.MaxRestartAttempts = cfg.MaxRestartAttempts
	pcfg.OnRestart = func(attempt int) {
		log.Warn("broker restarted", "attempt", attempt)
	}

	proc := process.NewManager(pcfg)
	proc.SetLogger(log.Component("broker"))
	return proc
}

func newSyncer(cfg *config.Config, store *credential.Store, auditRepo audit.Repository, proc *process.Manager,
	mqttClient *mqtt.Client, influxClient *influxdb.Client, log *logging.Logger) (*brokersync.Syncer, error) {
	admin, err := brokersync.NewAdminIdentity(cfg.Broker.Admin)
	if err != nil {
		return nil, fmt.Errorf("broker admin identity: %w", err)
	}

	// A nil *process.Manager must not reach the interface as a typed nil.
	var signaller brokersync.Signaller
	if proc != nil {
		signaller = proc
	}
	reloader, err := brokersync.NewReloader(cfg.Broker.Reload, signaller)
	if err != nil {
		return nil, fmt.Errorf("creating broker reloader: %w", err)
	}
	log.Info("broker reload configured", "method", reloader.Name())

	var observers []brokersync.Observer
	if mqttClient != nil {
		observers = append(observers, brokersync.NewEventPublisher(mqttClient, mqttClient.Topics().BrokerSync()))
	}
	if influxClient != nil {
		observers = append(observers, brokersync.NewMetricsRecorder(influxClient))
	}

	syncer, err := brokersync.NewSyncer(brokersync.Config{
		PasswordFile:  cfg.Broker.PasswordFile,
		ACLFile:       cfg.Broker.ACLFile,
		ReloadTimeout: cfg.Sync.ReloadTimeout,
	}, brokersync.Deps{
		Source:    store,
		Status:    store.Status,
		Admin:     admin,
		Writer:    brokersync.FileWriter{},
		Reloader:  reloader,
		Observers: observers,
		Audit:     auditRepo,
		Logger:    log.Component("brokersync"),
	})
	if err != nil {
		return nil, fmt.Errorf("creating syncer: %w", err)
	}
	return syncer, nil
}

func syncOnce(ctx context.Context, syncer *brokersync.Syncer, log *logging.Logger) error {
	result, err := syncer.Sync(ctx)
	if err != nil {
		return fmt.Errorf("sync failed: %w", err)
	}
	log.Info("sync complete", "message", result.Message, "reloaded", result.Reloaded)
	return nil
}

func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	return nil
}
