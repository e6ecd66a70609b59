package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"go.vocdoni.io/spendnote/api"
	"go.vocdoni.io/spendnote/util"
)

var noteCmd = &cobra.Command{
	Use:   "note",
	Short: "Issue spend notes and query the commitment tree.",
}

var noteIssueCmd = &cobra.Command{
	Use:   "issue <wallet address>",
	Short: "Issue a spend note for a wallet (needs the admin token).",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		amount, _ := cmd.Flags().GetString("amount")
		linkTTL, _ := cmd.Flags().GetInt("linkTTL")
		c, err := newClient()
		if err != nil {
			return err
		}
		note, err := c.Issue(&api.IssueParams{
			WalletAddress:  args[0],
			AmountEther:    amount,
			LinkTTLMinutes: linkTTL,
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(Stdout, "leaf: %s\namount: %s ether\nroot: %s\n",
			note.LeafHash.Hex(), util.WeiToEther(note.Amount.MathBigInt()), note.MerkleRoot.Hex())
		if note.Link != "" {
			fmt.Fprintf(Stdout, "link: %s\n", note.Link)
		}
		if note.LinkURL != "" {
			fmt.Fprintf(Stdout, "url: %s\n", note.LinkURL)
		}
		return nil
	},
}

var noteRootCmd = &cobra.Command{
	Use:   "root",
	Short: "Print the local and ledger commitment roots.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		root, err := c.Root()
		if err != nil {
			return err
		}
		fmt.Fprintf(Stdout, "root: %s\nledger root: %s\nleaves: %d\nin sync: %t\n",
			root.Root.Hex(), root.LedgerRoot.Hex(), root.Size, root.InSync)
		return nil
	},
}

var noteProofCmd = &cobra.Command{
	Use:   "proof <leaf hash>",
	Short: "Print the inclusion proof of a leaf as JSON.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		leaf, err := util.ParseHash(args[0])
		if err != nil {
			return err
		}
		c, err := newClient()
		if err != nil {
			return err
		}
		proof, err := c.Proof(leaf)
		if err != nil {
			return err
		}
		data, err := json.MarshalIndent(proof, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(Stdout, string(data))
		return nil
	},
}
