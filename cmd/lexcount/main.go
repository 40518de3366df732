package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	apperrors "github.com/Adithya-Monish-Kumar-K/lexcount/pkg/errors"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := &cli.App{
		Name:  "lexcount",
		Usage: "Count perspective dictionary terms in n-gram frequency files, shard by shard",
		Commands: []*cli.Command{
			cmdCount,
			cmdLocal,
			cmdMerge,
			cmdTerms,
			cmdSplitDict,
		},
	}

	if err := app.RunContext(ctx, os.Args); err != nil {
		slog.Error("lexcount failed", "error", err)
		stop()
		os.Exit(apperrors.ExitCode(err))
	}
}

var configFlag = &cli.StringFlag{
	Name:    "config",
	Aliases: []string{"c"},
	Value:   "configs/example.yaml",
	Usage:   "path to the YAML config file",
	EnvVars: []string{"LX_CONFIG"},
}

var shardFlags = []cli.Flag{
	&cli.IntFlag{Name: "shard", Usage: "1-based index of the shard to process"},
	&cli.IntFlag{Name: "shards", Usage: "total number of shards"},
}

var countingFlags = []cli.Flag{
	&cli.StringFlag{Name: "lengths", Usage: "comma-separated n-gram lengths, e.g. 1,2,3"},
	&cli.StringFlag{Name: "mode", Usage: "column layout: split, merged or terms"},
	&cli.StringFlag{Name: "decade", Usage: "decade range such as 1971-1981"},
	&cli.StringFlag{Name: "out", Usage: "output directory"},
	&cli.StringFlag{Name: "run", Usage: "run name shared by the workers and the merger"},
}

func flags(groups ...[]cli.Flag) []cli.Flag {
	out := []cli.Flag{configFlag}
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}

var cmdCount = &cli.Command{
	Name:   "count",
	Usage:  "Count one shard of the document list",
	Flags:  flags(shardFlags, countingFlags),
	Action: runCount,
}

var cmdLocal = &cli.Command{
	Name:  "local",
	Usage: "Count every shard in this process, then merge",
	Flags: flags(shardFlags, countingFlags, []cli.Flag{
		&cli.IntFlag{Name: "parallel", Usage: "shards counted at once (0 = one per shard)"},
	}),
	Action: runLocal,
}

var cmdMerge = &cli.Command{
	Name:  "merge",
	Usage: "Merge the shard tables of a run into one table and join metadata",
	Flags: flags(shardFlags, countingFlags, []cli.Flag{
		&cli.StringFlag{Name: "tags", Usage: "comma-separated length sets to merge, e.g. 1,2,3 (default: all found)"},
		&cli.BoolFlag{Name: "wait", Usage: "wait for every shard's completion event before merging"},
		&cli.DurationFlag{Name: "wait-timeout", Usage: "give up waiting after this long (0 = no limit)"},
		&cli.BoolFlag{Name: "force", Usage: "take over a merge lock held by another merger"},
		&cli.BoolFlag{Name: "from-sqlite", Usage: "read shard tables from output.sqlitePath instead of CSV"},
	}),
	Action: runMerge,
}

var cmdTerms = &cli.Command{
	Name:  "terms",
	Usage: "Sum term frequencies of one n-gram length across a shard, or merge the shard totals",
	Flags: flags(shardFlags, countingFlags, []cli.Flag{
		&cli.IntFlag{Name: "length", Value: 1, Usage: "n-gram length"},
		&cli.BoolFlag{Name: "merge", Usage: "merge the per-shard totals instead of counting"},
	}),
	Action: runTerms,
}

var cmdSplitDict = &cli.Command{
	Name:  "split-dict",
	Usage: "Split a dictionary into one file per term length",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "in", Required: true, Usage: "dictionary file"},
		&cli.StringFlag{Name: "name", Required: true, Usage: "perspective name, used as the file prefix"},
		&cli.StringFlag{Name: "out", Value: ".", Usage: "output directory"},
		&cli.StringFlag{Name: "separator", Value: "_", Usage: "canonical token separator"},
	},
	Action: runSplitDict,
}
