// Package main: observer service.
package main

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/tarancss/rpcbalancer/lib/config"
	"github.com/tarancss/rpcbalancer/lib/logger"
	"github.com/tarancss/rpcbalancer/lib/msg/amqp"
	"github.com/tarancss/rpcbalancer/lib/store"
	"github.com/tarancss/rpcbalancer/lib/store/db"
	"github.com/tarancss/rpcbalancer/observer"
)

func main() {
	app := &cli.App{
		Name:  "observer",
		Usage: "keep a persistent view of the networks served by the balancer",
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
	conf, err := config.ExtractConfiguration(cCtx.String("config"))
	if err != nil {
		return err
	}

	log, err := logger.New(conf.LogLevel, conf.LogFile)
	if err != nil {
		return err
	}
	defer log.Sync() //nolint:errcheck

	// connect to database
	var dbConn store.DB

	if conf.DBConn != "" {
		if dbConn, err = db.New(conf.DBType, conf.DBConn); err != nil {
			return err
		}

		defer func() {
			if err := db.Close(conf.DBType, dbConn); err != nil {
				log.Warn("error closing database", zap.Error(err))
			}
		}()

		log.Info("connected to database", zap.String("type", conf.DBType))
	}

	if cCtx.Bool("monitor") {
		go func() {
			log.Info("serving metrics API", zap.String("port", "9100"))

			h := http.NewServeMux()
			h.Handle("/metrics", promhttp.Handler())

			if err := http.ListenAndServe(":9100", h); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Warn("metrics API stopped", zap.Error(err))
			}
		}()
	}

	// load message broker, the observer has nothing to do without one
	if conf.MbType != "amqp" {
		return fmt.Errorf("unknown message broker type: %s", conf.MbType)
	}

	mb, err := amqp.New(conf.MbConn, log)
	if err != nil {
		time.Sleep(10 * time.Second) // wait 10s for AMQP to be ready and try to reconnect

		if mb, err = amqp.New(conf.MbConn, log); err != nil {
			return err
		}
	}

	if err = mb.Setup(nil); err != nil {
		return err
	}

	nets := make([]string, 0, len(conf.Networks))
	for _, n := range conf.Networks {
		nets = append(nets, n.Name)
	}

	// create observer service
	o := observer.New(dbConn, mb, nets, log)

	// capture CTRL+C or docker's SIGTERM for gracious exit
	go func() {
		sigchan := make(chan os.Signal, 10)
		signal.Notify(sigchan, os.Interrupt, syscall.SIGTERM)
		<-sigchan
		log.Info("program killed")

		if err := o.Stop(); err != nil {
			log.Warn("error closing message broker", zap.Error(err))
		}
	}()

	done, err := o.Observe()
	if err != nil {
		return err
	}

	<-done
	log.Info("observer stopped")

	return nil
}
