package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"
)

func clearCmd() *cli.Command {
	return &cli.Command{
		Name:        "clear",
		Usage:       "Remove all articles from the store",
		Description: `Deletes every stored article and its recency ranking. A running server keeps its buffer until it is cleared with POST /clear-cache.`,
		Flags:       storeFlags(),
		Action: func(ctx *cli.Context) error {
			st, err := openStore(ctx)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer closeStore(st)

			if err := st.Clear(ctx.Context); err != nil {
				return err
			}
			fmt.Println("Store cleared")
			return nil
		},
	}
}
