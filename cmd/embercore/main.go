// Ember Core - execution control plane for a remote device platform.
//
// Ember Core sits between declarative automation specs and a
// Home-Assistant-compatible platform: it maintains a capability graph of
// what the platform can do, validates specs into execution plans, and
// executes those plans with idempotency, retry, circuit breaking and
// rollout safety rails.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/emberhaus/ember-core/migrations"

	"github.com/emberhaus/ember-core/internal/execution"
	"github.com/emberhaus/ember-core/internal/graph"
	"github.com/emberhaus/ember-core/internal/infrastructure/config"
	"github.com/emberhaus/ember-core/internal/infrastructure/database"
	"github.com/emberhaus/ember-core/internal/infrastructure/influxdb"
	"github.com/emberhaus/ember-core/internal/infrastructure/logging"
	"github.com/emberhaus/ember-core/internal/infrastructure/mqtt"
	"github.com/emberhaus/ember-core/internal/platform"
	"github.com/emberhaus/ember-core/internal/rollout"
	"github.com/emberhaus/ember-core/internal/specstore"
	"github.com/emberhaus/ember-core/internal/validation"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const defaultConfigPath = "configs/config.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the application logic, separated from main for testability.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting Ember Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised", "level", cfg.Logging.Level, "format", cfg.Logging.Format)

	// Database and migrations.
	db, err := database.Open(ctx, database.Config{
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
	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database ready", "path", cfg.Database.Path)

	// Remote platform clients: REST for queries and service calls, the
	// stream for events and confirmation.
	rest := platform.NewClient(platform.ClientConfig{
		BaseURL: cfg.Platform.BaseURL,
		Token:   cfg.Platform.Token,
		Timeout: cfg.GetPlatformTimeout(),
	})
	rest.SetLogger(log)

	if info, infoErr := rest.Config(ctx); infoErr != nil {
		log.Warn("platform config probe failed", "error", infoErr)
	} else {
		log.Info("platform reachable", "version", info.Version, "location", info.LocationName)
	}

	stream := platform.NewStreamClient(platform.StreamConfig{
		URL:                   cfg.Platform.WebSocket.URL,
		Token:                 cfg.Platform.Token,
		PingInterval:          time.Duration(cfg.Platform.WebSocket.PingInterval) * time.Second,
		ReconnectInitialDelay: time.Duration(cfg.Platform.WebSocket.Reconnect.InitialDelay) * time.Second,
		ReconnectMaxDelay:     time.Duration(cfg.Platform.WebSocket.Reconnect.MaxDelay) * time.Second,
		ReconnectMaxAttempts:  cfg.Platform.WebSocket.Reconnect.MaxAttempts,
	})
	stream.SetLogger(log)
	stream.SetOnDisconnect(func(err error) {
		log.Warn("platform event stream disconnected", "error", err)
	})
	if connectErr := stream.Connect(ctx); connectErr != nil {
		return fmt.Errorf("connecting event stream: %w", connectErr)
	}
	defer func() {
		log.Info("closing event stream")
		if closeErr := stream.Close(); closeErr != nil {
			log.Error("error closing event stream", "error", closeErr)
		}
	}()

	// Capability graph: initial snapshot, then live updates from the
	// stream and a periodic full refresh to catch drift.
	capGraph := graph.New(rest, cfg.GetServiceTTL())
	capGraph.SetLogger(log)
	if refreshErr := capGraph.Refresh(ctx); refreshErr != nil {
		return fmt.Errorf("initial graph refresh: %w", refreshErr)
	}
	log.Info("capability graph ready", "entities", capGraph.EntityCount())

	if _, subErr := stream.SubscribeEvents("state_changed", func(ev platform.Event) {
		change, ok := platform.DecodeStateChange(ev)
		if !ok {
			return
		}
		if change.NewState == nil {
			capGraph.RemoveEntity(change.EntityID)
			return
		}
		capGraph.UpdateEntity(*change.NewState)
	}); subErr != nil {
		return fmt.Errorf("subscribing to state changes: %w", subErr)
	}
	go capGraph.RunRefreshLoop(ctx, cfg.GetGraphRefreshInterval())

	// Validation pipeline. The platform is treated as unstable whenever
	// the event stream is down, which blocks low and medium risk specs
	// unless they opt out.
	pipeline := validation.NewPipeline(validation.PipelineConfig{
		Graph:     capGraph,
		Preflight: preflightAdapter{rest},
		Overrides: validation.NewOverrideStore(),
		Unstable:  func() bool { return !stream.IsConnected() },
	})
	pipeline.SetLogger(log)

	// Spec registry.
	specs := specstore.NewSQLiteRepository(db.DB)

	// Execution engine.
	engine := execution.New(execution.Config{
		HomeID:              cfg.Home.ID,
		MaxRetries:          cfg.Engine.MaxRetries,
		RetryInitialDelay:   time.Duration(cfg.Engine.RetryInitialDelay) * time.Millisecond,
		RetryMaxDelay:       time.Duration(cfg.Engine.RetryMaxDelay) * time.Millisecond,
		IdempotencyTTL:      time.Duration(cfg.Engine.IdempotencyTTL) * time.Second,
		ConfirmationTimeout: time.Duration(cfg.Engine.ConfirmationTimeout) * time.Second,
		MaxParallel:         cfg.Engine.MaxParallel,
		Breaker: execution.BreakerConfig{
			FailureThreshold: cfg.Engine.Breaker.FailureThreshold,
			SuccessThreshold: cfg.Engine.Breaker.SuccessThreshold,
			Timeout:          time.Duration(cfg.Engine.Breaker.Timeout) * time.Second,
		},
	}, rest, stream)
	engine.SetLogger(log)
	engine.SetAuditStore(execution.NewSQLiteAuditStore(db))

	// Rollout safety: kill switch gates every run, canary and rollback
	// managers consume every outcome.
	kill := rollout.NewKillSwitch()
	kill.SetLogger(log)
	engine.SetGate(rollout.HomeGate{Switch: kill, HomeID: cfg.Home.ID})

	canary := rollout.NewCanaryManager(rollout.GateConfig{
		MinExecutions:   cfg.Rollout.MinExecutions,
		MaxErrorRate:    cfg.Rollout.MaxErrorRate,
		MaxAvgLatencyMS: cfg.Rollout.MaxAvgLatencyMS,
	})
	canary.SetLogger(log)
	engine.AddObserver(canary)

	rollback := rollout.NewRollbackManager(rollout.RollbackConfig{
		ErrorBudget: cfg.Rollout.ErrorBudget,
		Window:      time.Duration(cfg.Rollout.ErrorBudgetWindow) * time.Second,
	}, specs)
	rollback.SetLogger(log)
	engine.AddObserver(rollback)

	// MQTT fan-out bus (optional).
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log)
		mqttClient.SetOnConnect(func() { log.Info("MQTT reconnected") })
		mqttClient.SetOnDisconnect(func(err error) { log.Warn("MQTT disconnected", "error", err) })
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)

		bus := mqtt.NewBus(mqttClient)
		bus.SetLogger(log)
		engine.AddObserver(bus)

		kill.SetRevoker(func(scope, target string) {
			bus.PublishKillSwitch(scope, target, "", true)
		})

		if cmdErr := wireRunCommand(ctx, mqttClient, pipeline, engine, cfg.Home.ID, log); cmdErr != nil {
			return fmt.Errorf("wiring run command: %w", cmdErr)
		}

		go publishDriftLoop(ctx, capGraph, bus, cfg.Home.ID, cfg.GetGraphRefreshInterval())
	} else {
		log.Info("MQTT disabled")
	}

	// InfluxDB metrics recorder (optional).
	if cfg.InfluxDB.Enabled {
		influxClient, influxErr := influxdb.Connect(cfg.InfluxDB)
		if influxErr != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", influxErr)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		engine.AddObserver(influxdb.NewRecorder(influxClient))
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	} else {
		log.Info("InfluxDB disabled")
	}

	if err := healthCheck(ctx, db, mqttClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses EMBER_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("EMBER_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies infrastructure connections after wiring.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}
	return nil
}

// publishDriftLoop periodically surfaces capability drift on the bus.
// Removals stay pending until acknowledged here, so a report is published
// at most once per change.
func publishDriftLoop(ctx context.Context, capGraph *graph.Graph, bus *mqtt.Bus, homeID string, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report := capGraph.Drift().Last()
			if report.Empty() {
				continue
			}
			bus.PublishDrift(homeID, report.AddedEntities, report.RemovedEntities)
			capGraph.Drift().Acknowledge()
		}
	}
}

// preflightAdapter narrows the REST client to the pipeline's preflight
// shape (value instead of pointer return).
type preflightAdapter struct {
	client *platform.Client
}

func (a preflightAdapter) State(ctx context.Context, entityID string) (platform.EntityState, error) {
	st, err := a.client.State(ctx, entityID)
	if err != nil {
		return platform.EntityState{}, err
	}
	return *st, nil
}
