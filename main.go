package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	natsgo "github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"field-change-log/internal/binlog"
	"field-change-log/internal/config"
	"field-change-log/internal/dynamo"
	"field-change-log/internal/fieldlog"
	"field-change-log/internal/mysqlstore"
	"field-change-log/internal/nats"
	"field-change-log/internal/processor"
	"field-change-log/internal/sink"
	"field-change-log/internal/webapi"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	logger.SetLevel(logrus.InfoLevel)

	configPath := "config.yaml"
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}

	if level, err := logrus.ParseLevel(cfg.Logging.Level); err == nil {
		logger.SetLevel(level)
	}

	logger.Infof("Starting field change logger (mode: %s, source: %s, sink: %s)...", cfg.Mode, cfg.Source.Type, cfg.Sink.Type)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var closers []func()
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}()

	// NATS backs the nats source and sink and the script bindings
	var natsConn *natsgo.Conn
	if cfg.NATS.URL != "" {
		natsConn, err = nats.Connect(cfg.NATS.URL, cfg.NATS.MaxReconnect, cfg.NATS.ReconnectWait, logger)
		if err != nil {
			logger.Fatalf("Failed to connect to NATS: %v", err)
		}
		closers = append(closers, natsConn.Close)
	}

	if err := processor.ValidateRules(&cfg.Processor); err != nil {
		logger.Fatalf("Invalid processor configuration: %v", err)
	}
	transformer, err := processor.NewTransformer(&cfg.Processor, logger, natsConn)
	if err != nil {
		logger.Fatalf("Failed to create transformer: %v", err)
	}

	var creator sink.RecordCreator
	if cfg.Mode == config.ModePersist {
		creator, err = newSink(ctx, cfg, natsConn, logger, &closers)
		if err != nil {
			logger.Fatalf("Failed to create %s sink: %v", cfg.Sink.Type, err)
		}
	}

	source, err := newSource(ctx, cfg, natsConn, logger, &closers)
	if err != nil {
		logger.Fatalf("Failed to create %s source: %v", cfg.Source.Type, err)
	}

	handler := fieldlog.NewLogger(creator, transformer, cfg.LogEntity, logger)
	proc := processor.NewProcessor(source, handler, logger)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		errChan <- proc.Start(ctx)
	}()

	select {
	case sig := <-sigChan:
		logger.Infof("Received signal: %v, shutting down...", sig)
		cancel()
		<-errChan
	case err := <-errChan:
		if err != nil {
			logger.Errorf("Processor error: %v", err)
		}
	}

	logger.Infof("Field change logger stopped after %d changes", proc.Handled())
}

func newSink(ctx context.Context, cfg *config.Config, natsConn *natsgo.Conn, logger *logrus.Logger, closers *[]func()) (sink.RecordCreator, error) {
	switch cfg.Sink.Type {
	case config.SinkConsole:
		return sink.NewConsole(logger), nil

	case config.SinkWebAPI:
		return webapi.NewClient(cfg.Sink.WebAPI, logger)

	case config.SinkNATS:
		return nats.NewPublisher(natsConn, cfg.Sink.NATS.SubjectPrefix, logger), nil

	case config.SinkMySQL:
		db, store, err := mysqlstore.Open(cfg.MySQL.DSN(cfg.Sink.MySQL.Database), cfg.Sink.MySQL.Table, logger)
		if err != nil {
			return nil, err
		}
		*closers = append(*closers, func() { db.Close() })
		if err := mysqlstore.NewChecker(db, logger).CheckLogTable(ctx, cfg.Sink.MySQL.Database, cfg.Sink.MySQL.Table); err != nil {
			return nil, err
		}
		return store, nil

	case config.SinkDynamoDB:
		return dynamo.NewClient(ctx, cfg.Sink.DynamoDB, logger)
	}
	return nil, fmt.Errorf("%w: %s", sink.ErrNoSink, cfg.Sink.Type)
}

func newSource(ctx context.Context, cfg *config.Config, natsConn *natsgo.Conn, logger *logrus.Logger, closers *[]func()) (processor.Source, error) {
	switch cfg.Source.Type {
	case config.SourceNATS:
		src, err := nats.NewSource(natsConn, cfg.NATS.Subject, cfg.NATS.Queue, cfg.NATS.NotifySubject, logger)
		if err != nil {
			return nil, err
		}
		*closers = append(*closers, src.Close)
		return src, nil

	case config.SourceBinlog:
		if cfg.MySQL.Version != "" {
			logger.Infof("MySQL version: %s", cfg.MySQL.Version)
		}

		schema, err := binlog.OpenSchema(cfg.MySQL.DSN(""), logger)
		if err != nil {
			return nil, err
		}
		*closers = append(*closers, schema.Close)

		if err := mysqlstore.NewChecker(schema.DB(), logger).CheckReplication(ctx); err != nil {
			return nil, err
		}

		reader, err := binlog.NewReader(cfg.MySQL, cfg.Binlog, logger)
		if err != nil {
			return nil, err
		}
		*closers = append(*closers, reader.Close)

		return binlog.NewSource(reader, schema, cfg.Binlog.Monitor, logger), nil
	}
	return nil, fmt.Errorf("unknown source type %q", cfg.Source.Type)
}
