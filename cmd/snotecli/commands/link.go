package commands

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"go.vocdoni.io/spendnote/claimlink"
)

var linkCmd = &cobra.Command{
	Use:   "link",
	Short: "Inspect claim links.",
}

var linkDecodeCmd = &cobra.Command{
	Use:   "decode <token or claim url>",
	Short: "Decode a claim link offline and print its content.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		token, err := claimlink.TokenFromURL(args[0])
		if err != nil {
			return err
		}
		link, err := claimlink.Parse(token)
		if err != nil {
			return err
		}
		data, err := json.MarshalIndent(link, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(Stdout, string(data))
		fmt.Fprintf(Stdout, "expires: %s\n", time.UnixMilli(link.ExpiresAt).UTC().Format(time.RFC3339))
		return nil
	},
}

var linkInfoCmd = &cobra.Command{
	Use:   "info <token or claim url>",
	Short: "Ask the node for the amount and status of the note behind a claim link.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		token, err := claimlink.TokenFromURL(args[0])
		if err != nil {
			return err
		}
		c, err := newClient()
		if err != nil {
			return err
		}
		info, err := c.LinkInfo(token)
		if err != nil {
			return err
		}
		fmt.Fprintf(Stdout, "note: %s\namount: %s ether (%s wei)\nregistered: %t\nspent: %t\n",
			info.NoteHash.Hex(), info.AmountEther, info.Amount, info.Registered, info.Spent)
		return nil
	},
}
