// Package commands implements the stampctl command tree.
package commands

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/bitfsorg/libstamp-go/config"
	"github.com/bitfsorg/libstamp-go/log"
	"github.com/bitfsorg/libstamp-go/session"
	"github.com/bitfsorg/libstamp-go/wallet"
)

// app is the state shared by every command of one invocation.
type app struct {
	dataDir  string
	password string
	network  string

	cfg  config.Config
	out  io.Writer
	opts []session.Option
}

// Execute runs stampctl with os.Args.
func Execute() error {
	return NewRootCmd().Execute()
}

// NewRootCmd builds the command tree. opts are passed to every session the
// commands open.
func NewRootCmd(opts ...session.Option) *cobra.Command {
	a := &app{opts: opts}
	root := &cobra.Command{
		Use:           "stampctl",
		Short:         "Stamped, end-to-end encrypted messaging wallet",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			a.out = cmd.OutOrStdout()
			return a.load()
		},
	}

	root.PersistentFlags().StringVar(&a.dataDir, "datadir", "", "data directory (default $STAMP_DATADIR or ~/.stamp)")
	root.PersistentFlags().StringVarP(&a.password, "password", "p", os.Getenv("STAMP_PASSWORD"), "wallet password (default $STAMP_PASSWORD)")
	root.PersistentFlags().StringVar(&a.network, "network", "", "override the configured network")

	root.AddCommand(
		a.mnemonicCmd(),
		a.addressCmd(),
		a.balanceCmd(),
		a.sendCmd(),
		a.inboxCmd(),
		a.historyCmd(),
		a.deleteCmd(),
		a.profileCmd(),
		a.contactsCmd(),
	)
	return root
}

// load resolves the data directory and reads its config file, falling back
// to defaults and the environment when there is none.
func (a *app) load() error {
	env, err := config.LoadEnv()
	if err != nil {
		return err
	}
	if a.dataDir == "" {
		a.dataDir = env.DataDir
	}

	cfg, err := config.LoadConfig(config.ConfigPath(a.dataDir))
	switch {
	case errors.Is(err, config.ErrConfigNotFound):
		cfg = env
	case err != nil:
		return err
	}
	cfg.DataDir = a.dataDir
	if a.network != "" {
		cfg.Network = a.network
	}
	if err := config.ValidateConfig(cfg); err != nil {
		return err
	}
	a.cfg = cfg
	return log.Init(cfg.LogLevel, cfg.LogJSON, cfg.LogFile)
}

func (a *app) seedPath() string {
	return filepath.Join(a.dataDir, wallet.SeedFileName)
}

func (a *app) seed() ([]byte, error) {
	if a.password == "" {
		return nil, fmt.Errorf("password required (-p or STAMP_PASSWORD)")
	}
	return wallet.ReadSeedFile(a.seedPath(), a.password)
}

// openSession decrypts the seed and opens a session on the data directory.
// The caller must Close it.
func (a *app) openSession() (*session.Session, error) {
	seed, err := a.seed()
	if err != nil {
		return nil, err
	}
	return session.Open(a.cfg, seed, a.opts...)
}

func (a *app) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(a.out, format, args...)
}
