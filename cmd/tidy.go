package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"feedcast/db"
)

func tidyCmd() *cli.Command {
	return &cli.Command{
		Name:  "tidy",
		Usage: "Tidy up the database",
		Description: `Removes expired articles from the SQLite store.

Reads already ignore expired articles, this only reclaims their space.
The Redis store expires articles on its own.`,
		Flags: []cli.Flag{
			databaseFlag(),
		},
		Action: func(ctx *cli.Context) error {
			database := ctx.String("database")
			deleted, err := db.Tidy(ctx.Context, database)
			if err != nil {
				return err
			}
			fmt.Printf("Removed %d expired articles from %s\n", deleted, database)
			return nil
		},
	}
}
