package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/hackgods/slot-booking-bot/internal/booking"
)

func newAddSlotCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "add-slot <DD.MM> <day> <HH:MM>",
		Short: "Create a free slot",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withService(cmd, func(ctx context.Context, svc *booking.Service) error {
				slot, err := svc.CreateSlot(ctx, args[0], args[1], args[2])
				if errors.Is(err, booking.ErrDuplicateSlot) {
					return fmt.Errorf("slot %s %s already exists", args[0], args[2])
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "created slot %d: %s (%s) %s\n", slot.ID, slot.Date, slot.Day, slot.Time)
				return nil
			})
		},
	}
}

func newDeleteSlotCommand(opts *rootOptions) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "delete-slot <slot-id>",
		Short: "Delete a slot",
		Long:  "Delete a slot. A booked slot is only deleted with --force, which removes its appointment too. The client is not notified.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid slot id %q", args[0])
			}

			return opts.withService(cmd, func(ctx context.Context, svc *booking.Service) error {
				if !force {
					err := svc.DeleteFreeSlot(ctx, id)
					if errors.Is(err, booking.ErrSlotOccupied) {
						return fmt.Errorf("slot %d is booked, rerun with --force to delete it with its appointment", id)
					}
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "deleted slot %d\n", id)
					return nil
				}

				detached, err := svc.DeleteSlot(ctx, id)
				if err != nil {
					return err
				}
				if detached != nil {
					fmt.Fprintf(cmd.OutOrStdout(), "deleted slot %d and appointment %d of user %d\n", id, detached.ID, detached.UserID)
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted slot %d\n", id)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "also delete a booked slot")
	return cmd
}

func newListCommand(opts *rootOptions) *cobra.Command {
	var freeOnly bool

	cmd := &cobra.Command{
		Use:   "list [DD.MM]",
		Short: "List slot dates, or the slots of one date",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			return opts.withService(cmd, func(ctx context.Context, svc *booking.Service) error {
				if len(args) == 0 {
					dates, err := svc.SlotDates(ctx)
					if freeOnly {
						dates, err = svc.AvailableDates(ctx)
					}
					if err != nil {
						return err
					}
					for _, d := range dates {
						fmt.Fprintf(out, "%s (%s)\n", d.Date, d.Day)
					}
					return nil
				}

				date, err := booking.NormalizeSlotDate(args[0])
				if err != nil {
					return err
				}
				slots, err := svc.SlotsByDate(ctx, date)
				if freeOnly {
					slots, err = svc.AvailableSlots(ctx, date)
				}
				if err != nil {
					return err
				}
				for _, s := range slots {
					status := "free"
					if !s.Available {
						status = "booked"
					}
					fmt.Fprintf(out, "%d\t%s\t%s\n", s.ID, s.Time, status)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&freeOnly, "free", false, "only free slots")
	return cmd
}

func newAppointmentsCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "appointments [DD.MM]",
		Short: "List appointment dates, or the appointments of one date",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			return opts.withService(cmd, func(ctx context.Context, svc *booking.Service) error {
				if len(args) == 0 {
					dates, err := svc.AppointmentDates(ctx)
					if err != nil {
						return err
					}
					for _, d := range dates {
						fmt.Fprintln(out, d)
					}
					return nil
				}

				date, err := booking.NormalizeSlotDate(args[0])
				if err != nil {
					return err
				}
				appts, err := svc.AppointmentsByDate(ctx, date)
				if err != nil {
					return err
				}
				for _, a := range appts {
					fmt.Fprintf(out, "%d\t%s\t%s\t@%s\t%s\n", a.ID, a.Time, a.ClientName, a.Username, a.Phone)
				}
				return nil
			})
		},
	}
}

func newNormalizeTimesCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "normalize-times",
		Short: "Rewrite stored slot times as HH:MM",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			return opts.withService(cmd, func(ctx context.Context, svc *booking.Service) error {
				report, err := svc.NormalizeTimes(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "updated %d slot(s)\n", report.Updated)
				for _, s := range report.Skipped {
					fmt.Fprintf(out, "skipped slot %d (%s %s): time already taken\n", s.ID, s.Date, s.Time)
				}
				return nil
			})
		},
	}
}

func newPollCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "poll",
		Short: "Create, vote in and show polls",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "create <question>",
		Short: "Create a poll",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withService(cmd, func(ctx context.Context, svc *booking.Service) error {
				p, err := svc.CreatePoll(ctx, args[0])
				if err != nil {
					return err
				}
				printPoll(cmd, p)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "vote <poll-id> <user-id> <yes|no>",
		Short: "Cast or change a user's vote",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			pollID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid poll id %q", args[0])
			}
			userID, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid user id %q", args[1])
			}
			choice := booking.VoteChoice(args[2])
			if choice != booking.VoteYes && choice != booking.VoteNo {
				return fmt.Errorf("vote must be %q or %q", booking.VoteYes, booking.VoteNo)
			}

			return opts.withService(cmd, func(ctx context.Context, svc *booking.Service) error {
				p, err := svc.Vote(ctx, pollID, userID, choice)
				if err != nil {
					return err
				}
				printPoll(cmd, p)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show <poll-id>",
		Short: "Show poll results",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid poll id %q", args[0])
			}
			return opts.withService(cmd, func(ctx context.Context, svc *booking.Service) error {
				p, err := svc.Poll(ctx, id)
				if err != nil {
					return err
				}
				printPoll(cmd, p)
				return nil
			})
		},
	})

	return cmd
}

func printPoll(cmd *cobra.Command, p *booking.Poll) {
	fmt.Fprintf(cmd.OutOrStdout(), "poll %d: %s\nyes: %d\nno: %d\n", p.ID, p.Question, p.YesVotes, p.NoVotes)
}
