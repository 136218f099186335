package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/dokzlo13/flickerd/internal/app"
	"github.com/dokzlo13/flickerd/internal/config"
	"github.com/dokzlo13/flickerd/internal/db"
	"github.com/dokzlo13/flickerd/internal/fixture"
	"github.com/dokzlo13/flickerd/internal/ledger"
	"github.com/dokzlo13/flickerd/internal/tagstore"
)

const tagPollInterval = 100 * time.Millisecond

func createTagCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tag",
		Short: "Read, write and audit fixture tags",
	}
	cmd.AddCommand(
		createTagReadCmd(configPath),
		createTagWriteCmd(configPath),
		createTagHistoryCmd(configPath),
	)
	return cmd
}

// withTag waits for a card and runs fn inside a tag session.
func withTag(configPath string, timeout time.Duration, fn func(*config.Config, tagstore.Layout, *tagstore.Session) error) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	tool, err := app.OpenTagTool(cfg)
	if err != nil {
		return err
	}
	defer tool.Close()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	card, err := tool.WaitCard(ctx, tagPollInterval)
	if err != nil {
		return fmt.Errorf("no tag presented: %w", err)
	}

	uid, _ := tagstore.UIDFromBytes(card.UID)
	if tag, ok := tool.Registry.Lookup(uid); ok {
		fmt.Printf("tag %s (%s, %s)\n", uid, tag.Name, card.Type)
	} else {
		fmt.Printf("tag % X (unknown, %s)\n", card.UID, card.Type)
	}

	return tool.Store.WithSession(card, func(sess *tagstore.Session) error {
		return fn(cfg, tool.Store.Layout(), sess)
	})
}

func createTagReadCmd(configPath *string) *cobra.Command {
	var slot int
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "read",
		Short: "Print the fixture configs stored on a tag",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withTag(*configPath, timeout, func(cfg *config.Config, layout tagstore.Layout, sess *tagstore.Session) error {
				slots := []int{slot}
				if slot < 0 {
					slots = slots[:0]
					for i := range cfg.Fixtures {
						slots = append(slots, i)
					}
				}

				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "SLOT\tFIXTURE\tBLOCK\tPATTERN\tHUE\tSAT\tCYCLE")
				for _, s := range slots {
					addr, err := layout.BlockForSlot(s)
					if err != nil {
						return err
					}
					c, err := sess.ReadConfig(addr)
					if err != nil {
						return err
					}
					name := "-"
					if s < len(cfg.Fixtures) {
						name = cfg.Fixtures[s].Name
					}
					fmt.Fprintf(w, "%d\t%s\t%d\t%d\t%d\t%d\t%v\n", s, name, addr, c.PatternID, c.Hue, c.Saturation, c.CycleColor)
				}
				return w.Flush()
			})
		},
	}
	cmd.Flags().IntVar(&slot, "slot", -1, "Slot to read, all configured fixtures when negative")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "How long to wait for a tag")
	return cmd
}

func createTagWriteCmd(configPath *string) *cobra.Command {
	var (
		slot    int
		c       fixture.Config
		pattern uint
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "write",
		Short: "Store a fixture config on a tag",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if pattern > fixture.MaxPatternID {
				return fmt.Errorf("pattern %d exceeds %d", pattern, fixture.MaxPatternID)
			}
			c.PatternID = uint8(pattern)

			return withTag(*configPath, timeout, func(_ *config.Config, layout tagstore.Layout, sess *tagstore.Session) error {
				addr, err := layout.BlockForSlot(slot)
				if err != nil {
					return err
				}
				if err := sess.WriteConfig(addr, c); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "slot %d (block %d): %s\n", slot, addr, c)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&slot, "slot", 0, "Slot to write")
	cmd.Flags().UintVar(&pattern, "pattern", 0, "Pattern id")
	cmd.Flags().Uint8Var(&c.Hue, "hue", 0, "Hue 0-255")
	cmd.Flags().Uint8Var(&c.Saturation, "sat", 0, "Saturation 0-255")
	cmd.Flags().BoolVar(&c.CycleColor, "cycle", false, "Cycle hue")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "How long to wait for a tag")
	return cmd
}

func createTagHistoryCmd(configPath *string) *cobra.Command {
	var limit int
	var uid string

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent tag operations from the ledger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			database, err := db.Open(cfg.Database.Path)
			if err != nil {
				return err
			}
			defer database.Close()

			l := ledger.New(database.DB)
			var entries []*ledger.Entry
			if uid != "" {
				u, err := tagstore.ParseUID(uid)
				if err != nil {
					return err
				}
				entries, err = l.GetByUID(u.String(), limit)
				if err != nil {
					return err
				}
			} else {
				entries, err = l.Recent(limit)
				if err != nil {
					return err
				}
			}
			if len(entries) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No tag operations recorded")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TIME\tEVENT\tUID\tTAG\tFIXTURE\tBLOCK")
			for _, e := range entries {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\n",
					e.Timestamp.Local().Format(time.DateTime), e.EventType, e.UID, e.TagName, e.Fixture, e.Block)
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Number of entries")
	cmd.Flags().StringVar(&uid, "uid", "", "Only show this tag")
	return cmd
}
