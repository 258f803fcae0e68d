// Package main: balancer service.
package main

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/tarancss/rpcbalancer/balancer"
	"github.com/tarancss/rpcbalancer/gateway"
	"github.com/tarancss/rpcbalancer/lib/config"
	"github.com/tarancss/rpcbalancer/lib/logger"
	"github.com/tarancss/rpcbalancer/lib/msg"
	"github.com/tarancss/rpcbalancer/lib/msg/amqp"
	"github.com/tarancss/rpcbalancer/lib/store"
	"github.com/tarancss/rpcbalancer/lib/store/db"
)

func main() {
	app := &cli.App{
		Name:  "rpcbalancer",
		Usage: "balance blockchain RPC calls over a pool of backend providers",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "get configuration from json `FILE`",
			},
			&cli.BoolFlag{
				Name:    "monitor",
				Aliases: []string{"m"},
				Usage:   "monitor the server with Prometheus at http://localhost:9100/metrics",
			},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cCtx *cli.Context) error {
	// extract configuration
	conf, err := config.ExtractConfiguration(cCtx.String("config"))
	if err != nil {
		return err
	}

	log, err := logger.New(conf.LogLevel, conf.LogFile)
	if err != nil {
		return err
	}
	defer log.Sync() //nolint:errcheck

	log.Info("configuration loaded", zap.String("network", conf.Network), zap.Int("networks", len(conf.Networks)))

	// connect to database
	var dbConn store.DB

	if conf.DBConn != "" {
		if dbConn, err = db.New(conf.DBType, conf.DBConn); err != nil {
			return err
		}

		log.Info("connected to database", zap.String("type", conf.DBType))
	}

	// load message broker
	var mb msg.MsgBroker

	switch conf.MbType {
	case "amqp":
		var a *amqp.Amqp
		if a, err = amqp.New(conf.MbConn, log); err != nil {
			time.Sleep(10 * time.Second) // wait 10s for AMQP to be ready and try to reconnect

			if a, err = amqp.New(conf.MbConn, log); err != nil {
				return err
			}
		}

		if err = a.Setup(nil); err != nil {
			return err
		}

		mb = a
	default:
		log.Warn("unknown message broker type, events will not be published", zap.String("type", conf.MbType))
	}

	// load Prometheus monitor
	var sinks []balancer.Sink

	if cCtx.Bool("monitor") {
		sinks = append(sinks, balancer.NewMetrics(prometheus.DefaultRegisterer))

		go func() {
			log.Info("serving metrics API", zap.String("port", "9100"))

			h := http.NewServeMux()
			h.Handle("/metrics", promhttp.Handler())

			if err := http.ListenAndServe(":9100", h); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Warn("metrics API stopped", zap.Error(err))
			}
		}()
	}

	// create balancer service
	g, err := gateway.New(conf, dbConn, mb, log, sinks...)
	if err != nil {
		return err
	}

	if cCtx.Bool("monitor") {
		g.MetricsHandler = promhttp.Handler()
	}

	g.ForwardEvents()

	// capture CTRL+C or docker's SIGTERM for gracious exit
	finish := make(chan struct{})

	go func() {
		sigchan := make(chan os.Signal, 10)
		signal.Notify(sigchan, os.Interrupt, syscall.SIGTERM)
		<-sigchan
		log.Info("program killed")
		// do last actions and wait for all write operations to end
		if err := g.Stop(); err != nil {
			log.Warn("stopped with errors", zap.Error(err))
		}
		close(finish)
	}()

	// init RESTful API, wait for its return and log response
	log.Info("balancer", zap.String("result", g.Init(conf.RestfulEndpoint, conf.Port, conf.SSLPort, conf.SSLCert,
		conf.SSLKey)))

	<-finish

	return nil
}
