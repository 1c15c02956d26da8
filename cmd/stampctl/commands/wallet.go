package commands

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bitfsorg/libstamp-go/config"
	"github.com/bitfsorg/libstamp-go/tx"
	"github.com/bitfsorg/libstamp-go/wallet"
)

func (a *app) mnemonicCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mnemonic",
		Short: "Create or import the wallet seed",
	}

	var words int
	var force bool
	newCmd := &cobra.Command{
		Use:   "new",
		Short: "Generate a mnemonic and store its encrypted seed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			bits := wallet.Mnemonic12Words
			switch words {
			case 12:
			case 24:
				bits = wallet.Mnemonic24Words
			default:
				return fmt.Errorf("--words must be 12 or 24")
			}
			mnemonic, err := wallet.GenerateMnemonic(bits)
			if err != nil {
				return err
			}
			if err := a.storeMnemonic(mnemonic, force); err != nil {
				return err
			}
			a.printf("Write these words down; they are the only backup of this wallet:\n\n%s\n", mnemonic)
			return nil
		},
	}
	newCmd.Flags().IntVar(&words, "words", 12, "mnemonic length (12 or 24)")
	newCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing wallet")

	importCmd := &cobra.Command{
		Use:   "import <word>...",
		Short: "Restore a wallet from its mnemonic",
		Args:  cobra.MinimumNArgs(12),
		RunE: func(cmd *cobra.Command, args []string) error {
			mnemonic := strings.Join(args, " ")
			if err := a.storeMnemonic(mnemonic, force); err != nil {
				return err
			}
			a.printf("Wallet imported.\n")
			return nil
		},
	}
	importCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing wallet")

	cmd.AddCommand(newCmd, importCmd)
	return cmd
}

// storeMnemonic encrypts the mnemonic's seed into the data directory and
// writes a config file if there is none yet.
func (a *app) storeMnemonic(mnemonic string, force bool) error {
	if a.password == "" {
		return fmt.Errorf("password required (-p or STAMP_PASSWORD)")
	}
	seed, err := wallet.SeedFromMnemonic(mnemonic, "")
	if err != nil {
		return err
	}
	if _, err := os.Stat(a.seedPath()); err == nil && !force {
		return fmt.Errorf("wallet already exists at %s (use --force to replace it)", a.seedPath())
	}
	if err := wallet.WriteSeedFile(a.seedPath(), seed, a.password); err != nil {
		return err
	}
	path := config.ConfigPath(a.dataDir)
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return config.SaveConfig(path, a.cfg)
	}
	return nil
}

func (a *app) addressCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "address",
		Short: "Print the identity address and public key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			seed, err := a.seed()
			if err != nil {
				return err
			}
			net, err := wallet.GetNetwork(a.cfg.Network)
			if err != nil {
				return err
			}
			w, err := wallet.NewWallet(seed, net)
			if err != nil {
				return err
			}
			id, err := w.IdentityKey()
			if err != nil {
				return err
			}
			addr, err := tx.Address(id.PublicKey, w.Mainnet())
			if err != nil {
				return err
			}
			a.printf("address: %s\npubkey:  %s\n", addr, hex.EncodeToString(id.PublicKey.Compressed()))
			return nil
		},
	}
}

func (a *app) balanceCmd() *cobra.Command {
	var offline bool
	cmd := &cobra.Command{
		Use:   "balance",
		Short: "Sync wallet outputs from the indexer and print the balance",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.openSession()
			if err != nil {
				return err
			}
			defer s.Close()

			if !offline {
				n, err := s.Sync(cmd.Context())
				if err != nil {
					return err
				}
				if n > 0 {
					a.printf("found %d new output(s)\n", n)
				}
			}
			spendable, frozen := s.Balance()
			a.printf("spendable: %d sat\nreserved:  %d sat\n", spendable, frozen)
			return nil
		},
	}
	cmd.Flags().BoolVar(&offline, "offline", false, "skip the indexer sync")
	return cmd
}
