// Package commands implements snotecli, a helper CLI to handle spend note
// keys, claim links and claims.
package commands

import (
	"fmt"
	"io"
	"net/url"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"go.vocdoni.io/spendnote/apiclient"
	"go.vocdoni.io/spendnote/log"
)

var (
	apiURL    string
	authToken string
	debug     bool
	password  string
)

// when running snotecli in a test harness which has its own logger setup,
// SetupLogPackage should be false so that snotecli won't override the test
// harness's logger settings
var SetupLogPackage bool
var Stdout io.Writer
var Stderr io.Writer
var Stdin io.Reader

func init() {
	Stdout = os.Stdout
	Stderr = os.Stderr
	Stdin = os.Stdin
	RootCmd.CompletionOptions.DisableDefaultCmd = true
	SetupLogPackage = true
	RootCmd.PersistentFlags().StringVarP(&apiURL, "url", "u", "http://127.0.0.1:9090/v1", "spend note node API URL")
	RootCmd.PersistentFlags().StringVarP(&authToken, "token", "t", "", "admin bearer token, needed to issue notes")
	RootCmd.PersistentFlags().StringVar(&password, "password", "", "supply the keystore password as an argument instead of reading it from stdin")
	RootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "prints additional information")

	RootCmd.AddCommand(keysCmd)
	RootCmd.AddCommand(linkCmd)
	RootCmd.AddCommand(claimCmd)
	RootCmd.AddCommand(amountCmd)
	RootCmd.AddCommand(noteCmd)
	keysCmd.AddCommand(keysGenerateCmd)
	keysCmd.AddCommand(keysShowCmd)
	linkCmd.AddCommand(linkDecodeCmd)
	linkCmd.AddCommand(linkInfoCmd)
	claimCmd.AddCommand(claimSignCmd)
	claimCmd.AddCommand(claimSubmitCmd)
	noteCmd.AddCommand(noteIssueCmd)
	noteCmd.AddCommand(noteRootCmd)
	noteCmd.AddCommand(noteProofCmd)

	keysGenerateCmd.Flags().String("keystore", "", "save the new key encrypted in go-ethereum's JSON format at this path")
	noteIssueCmd.Flags().String("amount", "", "note amount in ether (node default if empty)")
	noteIssueCmd.Flags().Int("linkTTL", 60, "claim link validity in minutes (zero for no link)")
}

// Execute runs the root command.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		fmt.Fprintln(Stderr, err)
		os.Exit(1)
	}
}

var RootCmd = &cobra.Command{
	Use:           "snotecli",
	Short:         "snotecli is a convenience CLI to handle spend notes and claim links",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if SetupLogPackage {
			if debug {
				log.Init("debug", "stderr")
			} else {
				log.Init("error", "stderr")
			}
		}
	},
}

// newClient returns an API client for --url, authenticated with --token if set.
func newClient() (*apiclient.HTTPclient, error) {
	u, err := url.Parse(apiURL)
	if err != nil {
		return nil, fmt.Errorf("invalid API url: %w", err)
	}
	var token *uuid.UUID
	if authToken != "" {
		t, err := uuid.Parse(authToken)
		if err != nil {
			return nil, fmt.Errorf("invalid token: %w", err)
		}
		token = &t
	}
	return apiclient.NewHTTPclient(u, token)
}
