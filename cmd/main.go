package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	"botfleet/cmd/reinvestor"
	"botfleet/cmd/sweeper"
	"botfleet/src/database"
	"botfleet/src/server"
)

var Version string

func main() {
	app := cli.NewApp()
	app.Name = "Botfleet CMD"
	app.Usage = "The botfleet command line interface"

	app.Commands = []cli.Command{
		serverCMD,
		sweeperCMD,
		reinvestorCMD,
	}

	if err := app.Run(os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var (
	serverCMD = cli.Command{
		Name:        "server",
		Usage:       "run API server",
		Action:      serverAction,
		ArgsUsage:   "",
		Flags:       []cli.Flag{},
		Description: `Run the fleet API server`,
	}
	sweeperCMD = cli.Command{
		Name:        "sweeper",
		Usage:       "run circuit-breaker sweeper",
		Action:      sweeperAction,
		ArgsUsage:   "",
		Flags:       []cli.Flag{},
		Description: `Run the periodic circuit-breaker sweep`,
	}
	reinvestorCMD = cli.Command{
		Name:        "reinvestor",
		Usage:       "run capital allocator",
		Action:      reinvestorAction,
		ArgsUsage:   "",
		Flags:       []cli.Flag{},
		Description: `Run the scheduled capital allocator`,
	}
)

func serverAction(_ *cli.Context) error {

	logrus.Info("Starting API server CMD")
	logrus.WithField("cmd", "server")

	if err := database.InitMainDB(); err != nil {
		logrus.WithError(err).Fatal("Failed to connect to database")
	}
	server.StartServer(server.GetConfig().Port)

	return nil
}

func sweeperAction(_ *cli.Context) error {

	logrus.Info("Starting sweeper CMD")
	logrus.WithField("cmd", "sweeper")

	sw := &sweeper.Sweeper{}
	err := sw.Start()
	if err != nil {
		logrus.WithError(err).Error("Starting cmd")
		return err
	}

	return nil
}

func reinvestorAction(_ *cli.Context) error {

	logrus.Info("Starting reinvestor CMD")
	logrus.WithField("cmd", "reinvestor")

	rv := &reinvestor.Reinvestor{}
	err := rv.Start()
	if err != nil {
		logrus.WithError(err).Error("Starting cmd")
		return err
	}

	return nil
}
