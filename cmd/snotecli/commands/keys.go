package commands

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	ethkeystore "github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"go.vocdoni.io/spendnote/crypto/ethereum"
)

var (
	scryptN = ethkeystore.StandardScryptN
	scryptP = ethkeystore.StandardScryptP
)

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Generate and inspect the keys that sign claims.",
}

var keysGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a new key, printing its address and private key.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		signer := ethereum.NewSignKeys()
		if err := signer.Generate(); err != nil {
			return err
		}
		_, priv := signer.HexString()
		fmt.Fprintf(Stdout, "address: %s\n", signer.Address().Hex())

		keystorePath, _ := cmd.Flags().GetString("keystore")
		if keystorePath == "" {
			fmt.Fprintf(Stdout, "private key: %s\n", priv)
			return nil
		}
		pass, err := readPassword("Your new key file will be locked with a password. Please give a password: ")
		if err != nil {
			return err
		}
		id, err := uuid.NewRandom()
		if err != nil {
			return fmt.Errorf("could not create random uuid: %w", err)
		}
		keyJSON, err := ethkeystore.EncryptKey(&ethkeystore.Key{
			Id:         id,
			Address:    signer.Address(),
			PrivateKey: &signer.Private,
		}, pass, scryptN, scryptP)
		if err != nil {
			return err
		}
		if err := writeKeyFile(keystorePath, keyJSON); err != nil {
			return err
		}
		fmt.Fprintf(Stdout, "key file: %s\n", keystorePath)
		return nil
	},
}

var keysShowCmd = &cobra.Command{
	Use:   "show <keyfile>",
	Short: "Decrypt a key file and print its address and private key.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		signer, err := openKeyfile(args[0])
		if err != nil {
			return err
		}
		_, priv := signer.HexString()
		fmt.Fprintf(Stdout, "address: %s\nprivate key: %s\n", signer.Address().Hex(), priv)
		return nil
	},
}

func writeKeyFile(filename string, k []byte) error {
	const dirPerm = 0o700
	if err := os.MkdirAll(filepath.Dir(filename), dirPerm); err != nil {
		return err
	}
	return os.WriteFile(filename, k, 0o600)
}

func openKeyfile(path string) (*ethereum.SignKeys, error) {
	keyJSON, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	pass, err := readPassword("Please unlock your key: ")
	if err != nil {
		return nil, err
	}
	k, err := ethkeystore.DecryptKey(keyJSON, pass)
	if err != nil {
		return nil, fmt.Errorf("couldn't decrypt the key with given password: %w", err)
	}
	signer := ethereum.NewSignKeys()
	signer.Private = *k.PrivateKey
	signer.Public = k.PrivateKey.PublicKey
	return signer, nil
}

// loadSigner accepts either a hex private key or the path of a key file.
func loadSigner(keyOrFile string) (*ethereum.SignKeys, error) {
	if _, err := os.Stat(keyOrFile); err == nil {
		return openKeyfile(keyOrFile)
	}
	signer := ethereum.NewSignKeys()
	if err := signer.AddHexKey(keyOrFile); err != nil {
		return nil, fmt.Errorf("not a key file nor a hex private key: %w", err)
	}
	return signer, nil
}

// readPassword returns --password if set, or reads a line from Stdin.
func readPassword(prompt string) (string, error) {
	if password != "" {
		return password, nil
	}
	fmt.Fprint(Stderr, prompt)
	p, err := bufio.NewReader(Stdin).ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(p), nil
}
