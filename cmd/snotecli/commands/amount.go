package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"go.vocdoni.io/spendnote/types"
	"go.vocdoni.io/spendnote/util"
)

var amountCmd = &cobra.Command{
	Use:   "amount <ether>",
	Short: "Convert an ether amount to wei. With --reverse, convert wei to ether.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if reverse, _ := cmd.Flags().GetBool("reverse"); reverse {
			wei, err := types.ParseAmount(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(Stdout, util.WeiToEther(wei))
			return nil
		}
		wei, err := util.EtherToWei(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(Stdout, wei.String())
		return nil
	},
}

func init() {
	amountCmd.Flags().BoolP("reverse", "r", false, "convert wei to ether")
}
