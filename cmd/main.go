package main

import (
	"fmt"
	"os"

	"ordersync/cmd/pricedump"
	"ordersync/cmd/syncdump"

	"github.com/urfave/cli"
)

var Version string

func main() {
	app := cli.NewApp()
	app.Name = "ordersync CMD"
	app.Usage = "The ordersync command line interface"

	app.Commands = []cli.Command{
		syncDumpCMD,
		priceDumpCMD,
	}

	if err := app.Run(os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var (
	syncDumpCMD = cli.Command{
		Name:        "syncdump",
		Usage:       "run a one-shot full sync and print the order book",
		Action:      syncDumpAction,
		ArgsUsage:   "",
		Flags:       []cli.Flag{},
		Description: `Fetch the full order book from the contract and print it as JSON`,
	}
	priceDumpCMD = cli.Command{
		Name:        "pricedump",
		Usage:       "fetch prices for the allowed tokens and print them",
		Action:      priceDumpAction,
		ArgsUsage:   "",
		Flags:       []cli.Flag{},
		Description: `Fetch USD quotes for the contract's allowed tokens and print them as JSON`,
	}
)

func syncDumpAction(c *cli.Context) error {
	return syncdump.Run()
}

func priceDumpAction(c *cli.Context) error {
	return pricedump.Run()
}
