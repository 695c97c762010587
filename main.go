package main

import (
	"fmt"
	"os"
	"os/signal"

	"offgridpay/api/apiclient"
	"offgridpay/common"
	"offgridpay/config"
	dbUtils "offgridpay/database"
	"offgridpay/log"
	"offgridpay/node"

	ethCommon "github.com/ethereum/go-ethereum/common"
	"github.com/urfave/cli"
)

const (
	flagCfg       = "cfg"
	flagYes       = "yes"
	flagURL       = "url"
	flagFrom      = "from"
	flagTo        = "to"
	flagNonce     = "nonce"
	flagTimestamp = "timestamp"
	nMigrations   = "nMigrations"
)

var (
	// Version represents the program based on the git tag
	Version = "v0.1.0"
)

func cmdVersion(c *cli.Context) error {
	fmt.Printf("Version = \"%v\"\n", Version)
	return nil
}

func cmdGenID(c *cli.Context) error {
	for _, name := range []string{flagFrom, flagTo} {
		if !ethCommon.IsHexAddress(c.String(name)) {
			return common.Wrap(fmt.Errorf("invalid %v address %q", name, c.String(name)))
		}
	}
	id := common.GenerateTxID(
		ethCommon.HexToAddress(c.String(flagFrom)),
		ethCommon.HexToAddress(c.String(flagTo)),
		common.Nonce(c.Uint64(flagNonce)),
		c.Int64(flagTimestamp),
	)
	fmt.Println(id)
	return nil
}

func cmdWipeSQL(c *cli.Context) error {
	_cfg, err := config.LoadDB(c.String(flagCfg))
	if err != nil {
		return common.Wrap(fmt.Errorf("error parsing flags and config: %w", err))
	}
	yes := c.Bool(flagYes)
	if !yes {
		fmt.Print("*WARNING* Are you sure you want to delete " +
			"the SQL DB? [y/N]: ")
		var input string
		if _, err := fmt.Scanln(&input); err != nil {
			return common.Wrap(err)
		}
		if input == "y" || input == "Y" {
			yes = true
		}
	}
	if yes {
		log.Info("Wiping SQL DB...")
		db, err := dbUtils.ConnectSQLDB(
			_cfg.PortWrite,
			_cfg.HostWrite,
			_cfg.UserWrite,
			_cfg.PasswordWrite,
			_cfg.NameWrite,
		)
		if err != nil {
			return common.Wrap(fmt.Errorf("dbUtils.ConnectSQLDB: %w", err))
		}
		defer db.Close() //nolint:errcheck
		if err := dbUtils.MigrationsDown(db.DB, c.Uint(nMigrations)); err != nil {
			return common.Wrap(fmt.Errorf("dbUtils.MigrationsDown: %w", err))
		}
	}
	return nil
}

func cmdStatus(c *cli.Context) error {
	client := apiclient.NewClient(c.String(flagURL), nil)
	stats, err := client.GetStats()
	if err != nil {
		return common.Wrap(err)
	}
	fmt.Printf("users:        %v\n", stats.TotalUsers)
	fmt.Printf("transactions: %v\n", stats.TotalTransactions)
	fmt.Printf("FLOW:         %v\n", stats.TotalFlowDeposited)
	fmt.Printf("PYUSD:        %v\n", stats.TotalPyusdDeposited)
	return nil
}

func waitSigInt() {
	stopCh := make(chan interface{})

	// catch ^C to send the stop signal
	ossig := make(chan os.Signal, 1)
	signal.Notify(ossig, os.Interrupt)
	const forceStopCount = 3
	go func() {
		n := 0
		for sig := range ossig {
			if sig == os.Interrupt {
				log.Info("Received Interrupt Signal")
				stopCh <- nil
				n++
				if n == forceStopCount {
					log.Fatalf("Received %v Interrupt Signals", forceStopCount)
				}
			}
		}
	}()
	<-stopCh
}

func cmdRun(c *cli.Context) error {
	cfg, err := config.LoadNode(c.String(flagCfg))
	if err != nil {
		if err := cli.ShowAppHelp(c); err != nil {
			panic(err)
		}
		return common.Wrap(fmt.Errorf("error parsing flags and config: %w", err))
	}
	log.Init(cfg.Log.Level, cfg.Log.Out)
	innerNode, err := node.NewNode(cfg, c.App.Version)
	if err != nil {
		return common.Wrap(fmt.Errorf("error starting node: %w", err))
	}
	innerNode.Start()
	waitSigInt()
	innerNode.Stop()

	return nil
}

func main() {
	app := cli.NewApp()
	app.Name = "offgridpay-node"
	app.Version = Version

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:     flagCfg,
			Usage:    "Node configuration `FILE`",
			Required: false,
		},
	}

	app.Commands = []cli.Command{
		{
			Name:    "version",
			Aliases: []string{},
			Usage:   "Show the application version",
			Action:  cmdVersion,
		},
		{
			Name:    "run",
			Aliases: []string{},
			Usage:   "Run the settlement node",
			Action:  cmdRun,
			Flags:   flags,
		},
		{
			Name:    "genid",
			Aliases: []string{},
			Usage:   "Compute the id of an offline transaction",
			Action:  cmdGenID,
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:     flagFrom,
					Usage:    "Sender `ADDRESS`",
					Required: true,
				},
				&cli.StringFlag{
					Name:     flagTo,
					Usage:    "Receiver `ADDRESS`",
					Required: true,
				},
				&cli.Uint64Flag{
					Name:  flagNonce,
					Usage: "Sender `NONCE` of the transaction",
				},
				&cli.Int64Flag{
					Name:  flagTimestamp,
					Usage: "Creation time of the transaction in unix `SECONDS`",
				},
			},
		},
		{
			Name:    "wipesql",
			Aliases: []string{},
			Usage: "Wipe the SQL DB (commit log), " +
				"leaving the DB in a clean state",
			Action: cmdWipeSQL,
			Flags: append(flags,
				&cli.BoolFlag{
					Name:     flagYes,
					Usage:    "automatic yes to the prompt",
					Required: false,
				},
				&cli.UintFlag{
					Name:  nMigrations,
					Usage: "amount of migrations to be done, 0 means all",
				},
			),
		},
		{
			Name:    "status",
			Aliases: []string{},
			Usage:   "Show the counters of a running node",
			Action:  cmdStatus,
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:  flagURL,
					Usage: "Node API `URL`",
					Value: "http://localhost:8086",
				},
			},
		},
	}

	err := app.Run(os.Args)
	if err != nil {
		fmt.Printf("\nError: %v\n", common.Wrap(err))
		os.Exit(1)
	}
}
