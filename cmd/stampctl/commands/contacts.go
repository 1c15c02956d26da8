package commands

import (
	"encoding/hex"
	"time"

	"github.com/spf13/cobra"

	"github.com/bitfsorg/libstamp-go/contact"
	"github.com/bitfsorg/libstamp-go/payload"
)

// Profile entry kinds published by stampctl.
const (
	profileName = "name"
	profileBio  = "bio"
)

func (a *app) profileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Publish or fetch signed profiles",
	}

	var name, bio string
	var ttl time.Duration
	setCmd := &cobra.Command{
		Use:   "set",
		Short: "Sign and publish your profile",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.openSession()
			if err != nil {
				return err
			}
			defer s.Close()

			p := &payload.Profile{
				Timestamp: time.Now().UnixMilli(),
				TTL:       ttl.Milliseconds(),
			}
			if name != "" {
				p.Entries = append(p.Entries, payload.Entry{Kind: profileName, Data: []byte(name)})
			}
			if bio != "" {
				p.Entries = append(p.Entries, payload.Entry{Kind: profileBio, Data: []byte(bio)})
			}
			if err := s.Client.PublishProfile(cmd.Context(), p); err != nil {
				return err
			}
			a.printf("profile published for %s\n", s.Address())
			return nil
		},
	}
	setCmd.Flags().StringVar(&name, "name", "", "display name")
	setCmd.Flags().StringVar(&bio, "bio", "", "short description")
	setCmd.Flags().DurationVar(&ttl, "ttl", 30*24*time.Hour, "how long the profile stays valid")

	getCmd := &cobra.Command{
		Use:   "get <handle>",
		Short: "Fetch and verify a profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.openSession()
			if err != nil {
				return err
			}
			defer s.Close()

			c, err := s.Contacts.Resolve(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			p, err := s.Client.FetchProfile(cmd.Context(), c.PubKey)
			if err != nil {
				return err
			}
			a.printf("handle:    %s\n", c.Handle)
			a.printf("published: %s\n", time.UnixMilli(p.Timestamp).Local().Format(time.DateTime))
			for _, e := range p.Entries {
				a.printf("%-10s %s\n", e.Kind+":", e.Data)
			}
			return nil
		},
	}

	cmd.AddCommand(setCmd, getCmd)
	return cmd
}

func (a *app) contactsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "contacts",
		Aliases: []string{"contact"},
		Short:   "Manage the contact book",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List saved contacts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.openSession()
			if err != nil {
				return err
			}
			defer s.Close()

			for _, c := range s.Contacts.Contacts() {
				name := c.Name
				if name == "" {
					name = "-"
				}
				a.printf("%-16s %-34s %s\n", name, c.Address, c.Handle)
			}
			return nil
		},
	}

	var name string
	addCmd := &cobra.Command{
		Use:   "add <handle>",
		Short: "Resolve a handle and save it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.openSession()
			if err != nil {
				return err
			}
			defer s.Close()

			c, err := s.Contacts.Resolve(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if name != "" {
				c, err = s.Contacts.Add(&contact.Identity{Handle: c.Handle, PubKey: c.PubKey, RelayURL: c.RelayURL}, name)
				if err != nil {
					return err
				}
			}
			a.printf("saved %s (%s, %s)\n", c.Handle, c.Address, hex.EncodeToString(c.PubKey.Compressed()))
			return nil
		},
	}
	addCmd.Flags().StringVar(&name, "name", "", "local display name")

	removeCmd := &cobra.Command{
		Use:     "remove <handle>",
		Aliases: []string{"rm"},
		Short:   "Delete a saved contact",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.openSession()
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.Contacts.Remove(args[0]); err != nil {
				return err
			}
			a.printf("removed %s\n", args[0])
			return nil
		},
	}

	cmd.AddCommand(listCmd, addCmd, removeCmd)
	return cmd
}
