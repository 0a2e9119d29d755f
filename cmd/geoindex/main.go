package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

var (
	appName = "geoindex"
	appSHA  = "latest-app-git-sha" // Populated by the compiler at the linking stage.
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		if !errors.Is(err, errReported) {
			_, _ = fmt.Fprintf(os.Stderr, "%s: %v\n", appName, err)
		}
		_ = os.Stderr.Sync()

		os.Exit(1)
	}
}

func newApp() *cli.App {
	app := cli.NewApp()
	app.Name = appName
	app.Version = appSHA
	app.Usage = "build and query a GeoNames gazetteer index"
	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			EnvVars: []string{"GEOINDEX_CONFIG"},
			Usage:   "path to a YAML configuration file",
		},
		&cli.StringFlag{
			Name:  "location",
			Usage: "index directory, overriding the configured one",
		},
	}
	app.Commands = []*cli.Command{
		{
			Name:      "build",
			Usage:     "index the entries of a GeoNames dump",
			ArgsUsage: "<dump file>",
			Flags: []cli.Flag{
				&cli.BoolFlag{
					Name:  "append",
					Usage: "add to the existing index instead of replacing it",
				},
			},
			Action: runBuild,
		},
		{
			Name:      "query",
			Usage:     "print the best ranked entries matching a query",
			ArgsUsage: "<query text>",
			Flags: []cli.Flag{
				&cli.IntFlag{
					Name:    "max-results",
					Aliases: []string{"n"},
					Usage:   "maximum number of results, defaults to the configured value",
				},
			},
			Action: runQuery,
		},
		{
			Name:   "compact",
			Usage:  "merge the segments of the index into one",
			Action: runCompact,
		},
	}

	return app
}

func rootLogger(appCtx *cli.Context, l *logrus.Logger) *logrus.Entry {
	host, _ := os.Hostname()

	return l.WithFields(logrus.Fields{
		"app":     appCtx.App.Name,
		"sha":     appSHA,
		"host":    host,
		"command": appCtx.Command.Name,
	})
}
