package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"feedcast/export"
	"feedcast/poller"
)

func exportCmd() *cli.Command {
	flags := []cli.Flag{
		&cli.IntFlag{
			Name:    "limit",
			Aliases: []string{"n"},
			Value:   poller.DefaultBufferSize,
			Usage:   "Number of most recent articles to export",
			EnvVars: []string{"FEEDCAST_EXPORT_LIMIT"},
		},
	}
	flags = append(flags, storeFlags()...)
	flags = append(flags, exportFlags()...)

	return &cli.Command{
		Name:  "export",
		Usage: "Export the most recent stored articles to a JSON file",
		Description: `Writes the most recent articles of the store to a new file named
articles_YYYYMMDD_HHMMSS.json in the export directory. Existing exports are
never modified.`,
		Flags: flags,
		Action: func(ctx *cli.Context) error {
			st, err := openStore(ctx)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer closeStore(st)

			items, err := st.Recent(ctx.Context, ctx.Int("limit"))
			if err != nil {
				return err
			}

			exporter, err := export.New(ctx.String("export-dir"))
			if err != nil {
				return err
			}

			path, err := exporter.Export(items)
			if err != nil {
				return err
			}
			fmt.Println(path)
			return nil
		},
	}
}
