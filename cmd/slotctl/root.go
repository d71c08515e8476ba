package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/hackgods/slot-booking-bot/internal/booking"
)

// opener connects to the configured store. The returned func releases it.
type opener func(ctx context.Context) (*booking.Service, func(), error)

type rootOptions struct {
	open    opener
	timeout time.Duration
}

// withService runs fn against a freshly opened store, bounded by --timeout.
func (o *rootOptions) withService(cmd *cobra.Command, fn func(ctx context.Context, svc *booking.Service) error) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), o.timeout)
	defer cancel()

	svc, closeStore, err := o.open(ctx)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer closeStore()

	return fn(ctx, svc)
}

func newRootCommand(open opener) *cobra.Command {
	opts := &rootOptions{open: open}

	cmd := &cobra.Command{
		Use:           "slotctl",
		Short:         "Maintain the slot booking store",
		Long:          "Add and delete slots, list slots and appointments, repair stored times and run polls against the store configured in the environment.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", 30*time.Second, "deadline for one command")

	cmd.AddCommand(newAddSlotCommand(opts))
	cmd.AddCommand(newDeleteSlotCommand(opts))
	cmd.AddCommand(newListCommand(opts))
	cmd.AddCommand(newAppointmentsCommand(opts))
	cmd.AddCommand(newNormalizeTimesCommand(opts))
	cmd.AddCommand(newPollCommand(opts))

	return cmd
}
