package main

import (
	"context"
	"fmt"
	"net/netip"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gopkg.in/urfave/cli.v1"

	"github.com/RGarrido03/CD-Project/internal/httpapi"
	"github.com/RGarrido03/CD-Project/internal/node"
	"github.com/RGarrido03/CD-Project/pkg/logging"
)

var (
	portFlag = cli.IntFlag{
		Name:  "port",
		Usage: "HTTP port for the /stats, /network and /solve API",
		Value: 8000,
	}
	serviceFlag = cli.IntFlag{
		Name:  "service",
		Usage: "TCP port this node listens on for peer connections",
		Value: 7000,
	}
	addressFlag = cli.StringFlag{
		Name:  "address",
		Usage: "parent node to bootstrap through, host:port (omit to start the first node in the network)",
	}
	handicapFlag = cli.IntFlag{
		Name:  "handicap",
		Usage: "artificial slowdown in milliseconds, divided by each job's remaining empty cells between validations",
		Value: 0,
	}
	debugFlag = cli.BoolFlag{
		Name:  "debug",
		Usage: "enable debug-level logging with source locations",
	}
)

func main() {
	app := cli.NewApp()
	app.Name = "sudokunode"
	app.Usage = "a peer in a distributed Sudoku-solving network"
	app.Flags = []cli.Flag{portFlag, serviceFlag, addressFlag, handicapFlag, debugFlag}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	servicePort := c.Int(serviceFlag.Name)
	httpPort := c.Int(portFlag.Name)

	self, err := netip.ParseAddrPort(fmt.Sprintf("127.0.0.1:%d", servicePort))
	if err != nil {
		return fmt.Errorf("resolve self address: %w", err)
	}

	log := logging.NewNodeLogger(os.Stdout, self.String(), c.Bool(debugFlag.Name))

	var parent *netip.AddrPort
	if addr := c.String(addressFlag.Name); addr != "" {
		p, err := netip.ParseAddrPort(addr)
		if err != nil {
			return fmt.Errorf("parse --address %q: %w", addr, err)
		}
		parent = &p
	}

	cfg := node.Config{
		Self:       self,
		ListenAddr: fmt.Sprintf(":%d", servicePort),
		Parent:     parent,
		Handicap:   time.Duration(c.Int(handicapFlag.Name)) * time.Millisecond,
	}
	n := node.New(log, cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 2)
	go func() { errCh <- n.Run(ctx) }()

	api := httpapi.New(log, n)
	go func() {
		addr := fmt.Sprintf(":%d", httpPort)
		log.Info("starting http api", "addr", addr)
		errCh <- api.Start(addr)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			log.Error("node failed", "err", err.Error())
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := api.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", "err", err.Error())
	}

	return nil
}
