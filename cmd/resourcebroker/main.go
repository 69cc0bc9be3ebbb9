package main

import (
	"context"
	"fmt"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/dvid-broker/resourcebroker/internal/broker"
	"github.com/dvid-broker/resourcebroker/internal/config"
	"github.com/dvid-broker/resourcebroker/internal/metrics"
	"github.com/dvid-broker/resourcebroker/internal/transport"
	"github.com/dvid-broker/resourcebroker/internal/wire"
)

type options struct {
	configFile string
	debug      bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		logrus.WithError(err).Fatal("resourcebroker exited with an error")
	}
}

func newRootCmd() *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:   "resourcebroker <comm_port>",
		Short: "Centralized admission-control broker for shared resource ceilings.",
		Long: `resourcebroker serializes concurrent access to a shared resource (e.g. a
storage volume) against a small set of per-resource ceilings, so a fleet of
independent clients never collectively exceeds what the backing resource can
sustain. It binds a request/reply endpoint on comm_port and a publish
endpoint on comm_port+1.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			commPort, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("comm_port must be an integer: %w", err)
			}
			return run(cmd.Context(), commPort, opts)
		},
	}

	cmd.Flags().StringVar(&opts.configFile, "config-file", "", "path to a JSON or YAML file overriding the default resource ceilings")
	cmd.Flags().BoolVar(&opts.debug, "debug", false, "validate every inbound message against its JSON Schema and log at debug level")

	return cmd
}

func run(parent context.Context, commPort int, opts options) error {
	if opts.debug {
		logrus.SetLevel(logrus.DebugLevel)
	}
	log := logrus.StandardLogger()

	cfg := wire.DefaultConfig
	if opts.configFile != "" {
		loaded, err := config.Load(opts.configFile)
		if err != nil {
			return fmt.Errorf("loading config file: %w", err)
		}
		cfg = loaded
	}

	var validator *wire.Validator
	if opts.debug {
		v, err := wire.NewValidator()
		if err != nil {
			return fmt.Errorf("compiling debug-mode schemas: %w", err)
		}
		validator = v
	}

	pubAddr := fmt.Sprintf("0.0.0.0:%d", commPort+1)
	pubSrv, err := transport.NewPubServer(pubAddr, log)
	if err != nil {
		return fmt.Errorf("binding publish endpoint %s: %w", pubAddr, err)
	}
	defer pubSrv.Close()

	rec := metrics.NewRecorder(prometheus.DefaultRegisterer)
	eng := broker.New(cfg, pubSrv, broker.WithRecorder(rec), broker.WithLogger(log))

	reqAddr := fmt.Sprintf("0.0.0.0:%d", commPort)
	reqSrv, err := transport.NewReqServer(reqAddr, eng, validator, log)
	if err != nil {
		return fmt.Errorf("binding request endpoint %s: %w", reqAddr, err)
	}
	defer reqSrv.Close()

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go eng.Run(ctx)

	errCh := make(chan error, 2)
	go func() { errCh <- pubSrv.Serve(ctx) }()
	go func() { errCh <- reqSrv.Serve(ctx) }()

	log.WithFields(logrus.Fields{
		"req_ep": reqAddr,
		"pub_ep": pubAddr,
		"config": cfg,
	}).Info("resourcebroker listening")

	<-ctx.Done()
	log.Info("shutting down")

	for i := 0; i < 2; i++ {
		if err := <-errCh; err != nil {
			return err
		}
	}
	return nil
}
