package commands

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/bitfsorg/libstamp-go/payload"
	"github.com/bitfsorg/libstamp-go/relay"
)

func (a *app) sendCmd() *cobra.Command {
	var pay uint64
	cmd := &cobra.Command{
		Use:   "send <handle> <message>",
		Short: "Encrypt, stamp and send a message",
		Long: "Send encrypts <message> to <handle> (a paymail or hex public key), " +
			"funds its stamp from the wallet and delivers it through the relay.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.openSession()
			if err != nil {
				return err
			}
			defer s.Close()

			items := []payload.Item{payload.TextItem{Text: args[1]}}
			if pay > 0 {
				items = append(items, payload.StealthItem{Amount: pay})
			}
			unsub := s.Client.OnSending(func(e relay.SendingEvent) {
				if e.Attempt > 1 {
					a.printf("retrying (attempt %d)\n", e.Attempt)
				}
			})
			defer unsub()

			digest, err := s.SendTo(cmd.Context(), args[0], items)
			if err != nil {
				return err
			}
			a.printf("sent %s\n", hex.EncodeToString(digest))
			return nil
		},
	}
	cmd.Flags().Uint64Var(&pay, "pay", 0, "also pay this many satoshis to the recipient")
	return cmd
}

func (a *app) inboxCmd() *cobra.Command {
	var since time.Duration
	var follow bool
	cmd := &cobra.Command{
		Use:   "inbox",
		Short: "Fetch new messages from the relay",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.openSession()
			if err != nil {
				return err
			}
			defer s.Close()

			unsub := s.Client.OnReceived(func(e relay.ReceivedEvent) {
				a.printMessage(e.Message, e.Items)
			})
			defer unsub()

			end := time.Now()
			var start time.Time
			if since > 0 {
				start = end.Add(-since)
			}
			n, err := s.Client.Refresh(cmd.Context(), start, end)
			if err != nil {
				return err
			}
			a.printf("%d new message(s)\n", n)
			if !follow {
				return nil
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return s.Run(ctx)
		},
	}
	cmd.Flags().DurationVar(&since, "since", 0, "only fetch messages newer than this (0 fetches everything)")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "keep listening for new messages")
	return cmd
}

func (a *app) historyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history <handle>",
		Short: "Show the stored conversation with a contact",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.openSession()
			if err != nil {
				return err
			}
			defer s.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			c, err := s.Contacts.Resolve(ctx, args[0])
			if err != nil {
				return err
			}
			for _, m := range s.Client.Conversation(c.PubKey) {
				a.printMessage(m, nil)
			}
			return nil
		},
	}
}

func (a *app) deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <digest>",
		Short: "Delete a message from the relay and local history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			digest, err := hex.DecodeString(args[0])
			if err != nil || len(digest) != 32 {
				return fmt.Errorf("invalid digest %q", args[0])
			}
			s, err := a.openSession()
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.Client.DeleteMessage(cmd.Context(), digest); err != nil {
				return err
			}
			n, err := s.Client.PrunePayloads()
			if err != nil {
				return err
			}
			a.printf("deleted %s (%d cached payload(s) evicted)\n", args[0], n)
			return nil
		},
	}
}

// printMessage writes one line per text entry. items is used when the
// caller already decoded them; otherwise the stored plaintext is read.
func (a *app) printMessage(m *payload.StoredMessage, items []payload.Item) {
	dir := "<-"
	if m.Outbound {
		dir = "->"
	}
	peer := hex.EncodeToString(m.Counterparty)
	if len(peer) > 16 {
		peer = peer[:16]
	}
	stamp := m.ReceivedAt.Local().Format(time.DateTime)

	var texts []string
	if items != nil {
		for _, it := range items {
			if t, ok := it.(payload.TextItem); ok {
				texts = append(texts, t.Text)
			}
		}
	} else if p, err := m.Payload(); err == nil {
		for _, e := range p.Entries {
			if e.Kind == payload.KindText {
				texts = append(texts, string(e.Data))
			}
		}
	}
	if len(texts) == 0 {
		texts = []string{"(no text)"}
	}
	for _, t := range texts {
		a.printf("%s %s %s [%s] %s\n", stamp, dir, peer, m.Status, t)
	}
}
