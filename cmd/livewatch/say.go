package main

import (
	"fmt"
	"strings"

	"github.com/DoyleJ11/livesync/internal/feature"
	"github.com/spf13/cobra"
)

func newSayCmd(flags *clientFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "say <message>",
		Short: "Post a chat message to the scope",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c, err := attach(ctx, *flags)
			if err != nil {
				return err
			}
			defer c.close()
			if err := c.waitJoined(ctx); err != nil {
				return err
			}

			opts := c.cfg.FeatureOptions()
			opts.Logger = c.log
			chat := feature.NewChat(c.handle, opts)
			defer chat.Close()

			msg, err := chat.Send(ctx, strings.Join(args, " "))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "sent %s\n", msg.ID)
			return nil
		},
	}
}
