package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	grpcTransport "drivesched/backend/internal/transport/grpc"
)

type schedulerClient interface {
	AddWindow(ctx context.Context, req *grpcTransport.AddWindowRequest) (*grpcTransport.AddWindowResponse, error)
	UpdateWindow(ctx context.Context, req *grpcTransport.UpdateWindowRequest) (*grpcTransport.UpdateWindowResponse, error)
	RemoveWindow(ctx context.Context, req *grpcTransport.RemoveWindowRequest) (*grpcTransport.RemoveWindowResponse, error)
	ListWindows(ctx context.Context, req *grpcTransport.ListWindowsRequest) (*grpcTransport.ListWindowsResponse, error)
	CopyWeek(ctx context.Context, req *grpcTransport.CopyWeekRequest) (*grpcTransport.CopyWeekResponse, error)
	ResolveAvailability(ctx context.Context, req *grpcTransport.ResolveAvailabilityRequest) (*grpcTransport.ResolveAvailabilityResponse, error)
	CheckAvailability(ctx context.Context, req *grpcTransport.CheckAvailabilityRequest) (*grpcTransport.CheckAvailabilityResponse, error)
	CreateBooking(ctx context.Context, req *grpcTransport.CreateBookingRequest, idempotencyKey string) (*grpcTransport.CreateBookingResponse, error)
	CancelBooking(ctx context.Context, req *grpcTransport.CancelBookingRequest) (*grpcTransport.CancelBookingResponse, error)
	UpdateBookingStatus(ctx context.Context, req *grpcTransport.UpdateBookingStatusRequest) (*grpcTransport.UpdateBookingStatusResponse, error)
	Close() error
}

type dialFunc func(addr string) (schedulerClient, error)

type cli struct {
	dial    dialFunc
	addr    string
	timeout time.Duration
	asJSON  bool
}

var weekdays = map[string]int{
	"sun": 0, "sunday": 0,
	"mon": 1, "monday": 1,
	"tue": 2, "tuesday": 2,
	"wed": 3, "wednesday": 3,
	"thu": 4, "thursday": 4,
	"fri": 5, "friday": 5,
	"sat": 6, "saturday": 6,
}

func newRootCmd(dial dialFunc) *cobra.Command {
	c := &cli{dial: dial}

	root := &cobra.Command{
		Use:           "drivesched",
		Short:         "Manage instructor working hours and lesson bookings",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	defaultAddr := os.Getenv("DRIVESCHED_ADDR")
	if defaultAddr == "" {
		defaultAddr = "127.0.0.1:50051"
	}
	root.PersistentFlags().StringVar(&c.addr, "addr", defaultAddr, "gRPC address of drivesched-server")
	root.PersistentFlags().DurationVar(&c.timeout, "timeout", 10*time.Second, "per-request timeout")
	root.PersistentFlags().BoolVar(&c.asJSON, "json", false, "print responses as JSON")

	root.AddCommand(
		c.windowsCmd(),
		c.copyWeekCmd(),
		c.slotsCmd(),
		c.checkCmd(),
		c.bookCmd(),
		c.cancelCmd(),
		c.statusCmd(),
	)
	return root
}

// call dials the server and runs fn with a request-scoped context.
func (c *cli) call(cmd *cobra.Command, fn func(ctx context.Context, client schedulerClient) (any, error), human func(w io.Writer, resp any)) error {
	client, err := c.dial(c.addr)
	if err != nil {
		return err
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), c.timeout)
	defer cancel()

	resp, err := fn(ctx, client)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if c.asJSON || human == nil {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}
	human(out, resp)
	return nil
}

func parseWeekday(s string) (int, error) {
	if d, ok := weekdays[strings.ToLower(strings.TrimSpace(s))]; ok {
		return d, nil
	}
	return 0, fmt.Errorf("unknown weekday %q", s)
}

func (c *cli) windowsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "windows",
		Short: "Add, change, list and remove availability windows",
	}

	var (
		day, date, from, to string
		effFrom, effTo      string
	)
	add := &cobra.Command{
		Use:   "add INSTRUCTOR",
		Short: "Declare a recurring (--day) or date-specific (--date) window",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := &grpcTransport.AddWindowRequest{
				InstructorID:  args[0],
				Date:          date,
				StartTime:     from,
				EndTime:       to,
				EffectiveFrom: effFrom,
				EffectiveTo:   effTo,
			}
			if day != "" {
				d, err := parseWeekday(day)
				if err != nil {
					return err
				}
				req.DayOfWeek = &d
			}
			return c.call(cmd, func(ctx context.Context, client schedulerClient) (any, error) {
				return client.AddWindow(ctx, req)
			}, func(w io.Writer, resp any) {
				printWindows(w, []grpcTransport.Window{resp.(*grpcTransport.AddWindowResponse).Window})
			})
		},
	}
	add.Flags().StringVar(&day, "day", "", "weekday for a recurring window (mon, tue, ...)")
	add.Flags().StringVar(&date, "date", "", "date for a one-off window (YYYY-MM-DD)")
	add.Flags().StringVar(&from, "from", "", "start time (HH:MM)")
	add.Flags().StringVar(&to, "to", "", "end time (HH:MM)")
	add.Flags().StringVar(&effFrom, "effective-from", "", "first date a recurring window applies")
	add.Flags().StringVar(&effTo, "effective-to", "", "last date a recurring window applies")
	add.MarkFlagsMutuallyExclusive("day", "date")
	_ = add.MarkFlagRequired("from")
	_ = add.MarkFlagRequired("to")

	var updFrom, updTo string
	update := &cobra.Command{
		Use:   "update WINDOW_ID",
		Short: "Change the times of a window",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := &grpcTransport.UpdateWindowRequest{WindowID: args[0]}
			if cmd.Flags().Changed("from") {
				req.StartTime = &updFrom
			}
			if cmd.Flags().Changed("to") {
				req.EndTime = &updTo
			}
			return c.call(cmd, func(ctx context.Context, client schedulerClient) (any, error) {
				return client.UpdateWindow(ctx, req)
			}, func(w io.Writer, resp any) {
				printWindows(w, []grpcTransport.Window{resp.(*grpcTransport.UpdateWindowResponse).Window})
			})
		},
	}
	update.Flags().StringVar(&updFrom, "from", "", "new start time (HH:MM)")
	update.Flags().StringVar(&updTo, "to", "", "new end time (HH:MM)")

	list := &cobra.Command{
		Use:   "list INSTRUCTOR",
		Short: "List an instructor's windows",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.call(cmd, func(ctx context.Context, client schedulerClient) (any, error) {
				return client.ListWindows(ctx, &grpcTransport.ListWindowsRequest{InstructorID: args[0]})
			}, func(w io.Writer, resp any) {
				printWindows(w, resp.(*grpcTransport.ListWindowsResponse).Windows)
			})
		},
	}

	rm := &cobra.Command{
		Use:   "rm WINDOW_ID",
		Short: "Remove a window",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.call(cmd, func(ctx context.Context, client schedulerClient) (any, error) {
				return client.RemoveWindow(ctx, &grpcTransport.RemoveWindowRequest{WindowID: args[0]})
			}, func(w io.Writer, resp any) {
				fmt.Fprintf(w, "removed %s\n", args[0])
			})
		},
	}

	cmd.AddCommand(add, update, list, rm)
	return cmd
}

func (c *cli) copyWeekCmd() *cobra.Command {
	var weekOf string
	cmd := &cobra.Command{
		Use:   "copy-week INSTRUCTOR",
		Short: "Copy a week's windows into the following week, skipping overlaps",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.call(cmd, func(ctx context.Context, client schedulerClient) (any, error) {
				return client.CopyWeek(ctx, &grpcTransport.CopyWeekRequest{InstructorID: args[0], WeekOf: weekOf})
			}, func(w io.Writer, resp any) {
				ids := resp.(*grpcTransport.CopyWeekResponse).CreatedWindowIDs
				fmt.Fprintf(w, "created %d window(s)\n", len(ids))
				for _, id := range ids {
					fmt.Fprintln(w, id)
				}
			})
		},
	}
	cmd.Flags().StringVar(&weekOf, "week-of", "", "any date in the source week (default: current week)")
	return cmd
}

func (c *cli) slotsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "slots INSTRUCTOR DATE",
		Short: "Show bookable slots for a date",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.call(cmd, func(ctx context.Context, client schedulerClient) (any, error) {
				return client.ResolveAvailability(ctx, &grpcTransport.ResolveAvailabilityRequest{InstructorID: args[0], Date: args[1]})
			}, func(w io.Writer, resp any) {
				r := resp.(*grpcTransport.ResolveAvailabilityResponse)
				switch {
				case r.FullyBooked:
					fmt.Fprintln(w, "fully booked")
				case !r.Available:
					fmt.Fprintln(w, "no working hours")
				}
				for _, s := range r.Slots {
					fmt.Fprintf(w, "%s-%s\n", s.StartTime, s.EndTime)
				}
			})
		},
	}
}

func (c *cli) checkCmd() *cobra.Command {
	var duration int
	cmd := &cobra.Command{
		Use:   "check INSTRUCTOR DATE TIME",
		Short: "Check whether a lesson would collide with an existing booking",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := &grpcTransport.CheckAvailabilityRequest{InstructorID: args[0], Date: args[1], Time: args[2]}
			if cmd.Flags().Changed("duration") {
				req.DurationMinutes = &duration
			}
			return c.call(cmd, func(ctx context.Context, client schedulerClient) (any, error) {
				return client.CheckAvailability(ctx, req)
			}, func(w io.Writer, resp any) {
				if resp.(*grpcTransport.CheckAvailabilityResponse).Available {
					fmt.Fprintln(w, "available")
				} else {
					fmt.Fprintln(w, "taken")
				}
			})
		},
	}
	cmd.Flags().IntVar(&duration, "duration", 60, "lesson length in minutes")
	return cmd
}

func (c *cli) bookCmd() *cobra.Command {
	var (
		duration int
		key      string
	)
	cmd := &cobra.Command{
		Use:   "book INSTRUCTOR STUDENT DATE TIME",
		Short: "Book a lesson",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := &grpcTransport.CreateBookingRequest{InstructorID: args[0], StudentID: args[1], Date: args[2], Time: args[3]}
			if cmd.Flags().Changed("duration") {
				req.DurationMinutes = &duration
			}
			return c.call(cmd, func(ctx context.Context, client schedulerClient) (any, error) {
				return client.CreateBooking(ctx, req, key)
			}, func(w io.Writer, resp any) {
				printBooking(w, resp.(*grpcTransport.CreateBookingResponse).Booking)
			})
		},
	}
	cmd.Flags().IntVar(&duration, "duration", 60, "lesson length in minutes")
	cmd.Flags().StringVar(&key, "idempotency-key", "", "retry-safe request key")
	return cmd
}

func (c *cli) cancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel BOOKING_ID",
		Short: "Cancel a booking and free its time",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.call(cmd, func(ctx context.Context, client schedulerClient) (any, error) {
				return client.CancelBooking(ctx, &grpcTransport.CancelBookingRequest{BookingID: args[0]})
			}, func(w io.Writer, resp any) {
				printBooking(w, resp.(*grpcTransport.CancelBookingResponse).Booking)
			})
		},
	}
}

func (c *cli) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "status BOOKING_ID STATUS",
		Short:     "Move a booking to in-progress, completed or cancelled",
		Args:      cobra.ExactArgs(2),
		ValidArgs: []string{"in-progress", "completed", "cancelled"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.call(cmd, func(ctx context.Context, client schedulerClient) (any, error) {
				return client.UpdateBookingStatus(ctx, &grpcTransport.UpdateBookingStatusRequest{BookingID: args[0], Status: args[1]})
			}, func(w io.Writer, resp any) {
				printBooking(w, resp.(*grpcTransport.UpdateBookingStatusResponse).Booking)
			})
		},
	}
}

func printWindows(w io.Writer, windows []grpcTransport.Window) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSCOPE\tFROM\tTO\tEFFECTIVE")
	for _, win := range windows {
		scope := win.Date
		if win.DayOfWeek != nil {
			scope = "every " + time.Weekday(*win.DayOfWeek).String()
		}
		effective := ""
		if win.EffectiveFrom != "" || win.EffectiveTo != "" {
			effective = win.EffectiveFrom + ".." + win.EffectiveTo
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", win.ID, scope, win.StartTime, win.EndTime, effective)
	}
	_ = tw.Flush()
}

func printBooking(w io.Writer, b grpcTransport.Booking) {
	fmt.Fprintf(w, "%s %s %s %s (%d min) student=%s status=%s\n",
		b.ID, b.InstructorID, b.Date, b.Time, b.DurationMinutes, b.StudentID, b.Status)
}
