package commands

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/spf13/cobra"

	"go.vocdoni.io/spendnote/api"
	"go.vocdoni.io/spendnote/claimlink"
)

var claimCmd = &cobra.Command{
	Use:   "claim",
	Short: "Sign and submit spend note claims.",
}

var claimSignCmd = &cobra.Command{
	Use:   "sign <private key or keyfile> <token or claim url> [recipient]",
	Short: "Print the claim message of a link and its signature. The recipient defaults to the key address.",
	Args:  cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		signer, err := loadSigner(args[0])
		if err != nil {
			return err
		}
		token, err := claimlink.TokenFromURL(args[1])
		if err != nil {
			return err
		}
		link, err := claimlink.Parse(token)
		if err != nil {
			return err
		}
		recipient := signer.Address().Hex()
		if len(args) == 3 {
			recipient = args[2]
		}
		msg := claimlink.ClaimMessage(recipient, link)
		sig, err := signer.SignEthereum([]byte(msg))
		if err != nil {
			return err
		}
		fmt.Fprintf(Stdout, "message: %s\nsignature: %s\n", msg, hexutil.Encode(sig))
		return nil
	},
}

var claimSubmitCmd = &cobra.Command{
	Use:   "submit <private key or keyfile> <token or claim url>",
	Short: "Claim the note of a link for the key address.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		signer, err := loadSigner(args[0])
		if err != nil {
			return err
		}
		c, err := newClient()
		if err != nil {
			return err
		}
		_, priv := signer.HexString()
		if err := c.SetAccount(priv); err != nil {
			return err
		}
		res, err := c.SignAndClaim(args[1])
		if err != nil {
			return err
		}
		printClaim(res)
		return nil
	},
}

func printClaim(res *api.ClaimResult) {
	fmt.Fprintf(Stdout, "outcome: %s\nnote: %s\nrecipient: %s\n", res.Outcome, res.NoteHash.Hex(), res.Recipient.Hex())
	if res.Receipt != nil {
		fmt.Fprintf(Stdout, "tx: %s (block %d)\n", res.Receipt.TxHash.Hex(), res.Receipt.BlockNumber)
	}
}
