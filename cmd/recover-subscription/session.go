package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"

	"github.com/mihaimyh/threadifier/pkg/billing/stripe"
	"github.com/mihaimyh/threadifier/pkg/subscription"
)

const regrantPrompt = "this subscription already shows an active grant — re-grant anyway? [y/N] "

// operator is the recovery surface of the Stripe provider
type operator interface {
	Replay(ctx context.Context, userID, subscriptionID string, force bool) (*stripe.ReplayResult, error)
	ListCheckoutCompletions(ctx context.Context, limit int) ([]stripe.CheckoutCompletion, error)
	LookupUser(ctx context.Context, query string) (*stripe.UserReport, error)
}

// session is one interactive operator run
type session struct {
	ops operator
	in  *bufio.Scanner
	out io.Writer

	success *color.Color
	warning *color.Color
	failure *color.Color
	heading *color.Color
}

func newSession(ops operator, in io.Reader, out io.Writer, colored bool) *session {
	s := &session{
		ops:     ops,
		in:      bufio.NewScanner(in),
		out:     out,
		success: color.New(color.FgGreen),
		warning: color.New(color.FgYellow),
		failure: color.New(color.FgRed),
		heading: color.New(color.Bold),
	}
	if !colored {
		for _, c := range []*color.Color{s.success, s.warning, s.failure, s.heading} {
			c.DisableColor()
		}
	}
	return s
}

// run shows the menu until the operator quits or input ends
func (s *session) run(ctx context.Context) error {
	for {
		s.heading.Fprintln(s.out, "\nSubscription recovery")
		fmt.Fprintln(s.out, "  1) Replay a subscription for a user")
		fmt.Fprintln(s.out, "  2) List recent checkout completions")
		fmt.Fprintln(s.out, "  3) Look up a user by email or customer id")
		fmt.Fprintln(s.out, "  q) Quit")

		choice, ok := s.prompt("> ")
		if !ok {
			return s.in.Err()
		}

		switch strings.ToLower(choice) {
		case "1":
			s.replay(ctx)
		case "2":
			s.list(ctx)
		case "3":
			s.lookup(ctx)
		case "q", "quit", "exit":
			return nil
		case "":
		default:
			s.warning.Fprintf(s.out, "unknown option %q\n", choice)
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func (s *session) prompt(label string) (string, bool) {
	fmt.Fprint(s.out, label)
	if !s.in.Scan() {
		return "", false
	}
	return strings.TrimSpace(s.in.Text()), true
}

func (s *session) replay(ctx context.Context) {
	userID, ok := s.prompt("user id: ")
	if !ok || userID == "" {
		s.failure.Fprintln(s.out, "✗ user id is required")
		return
	}
	subscriptionID, ok := s.prompt("subscription id: ")
	if !ok || subscriptionID == "" {
		s.failure.Fprintln(s.out, "✗ subscription id is required")
		return
	}

	result, err := s.ops.Replay(ctx, userID, subscriptionID, false)
	if errors.Is(err, subscription.ErrAlreadyGranted) {
		answer, _ := s.prompt(regrantPrompt)
		if a := strings.ToLower(answer); a != "y" && a != "yes" {
			s.warning.Fprintln(s.out, "! replay cancelled, nothing was changed")
			return
		}
		result, err = s.ops.Replay(ctx, userID, subscriptionID, true)
	}
	if err != nil {
		s.failure.Fprintf(s.out, "✗ replay failed: %v\n", err)
		return
	}

	s.success.Fprintf(s.out, "✓ %s: %s → %s (%s), %d credits granted\n",
		userID, result.OldPlan, result.Plan, result.Status, result.CreditsGranted)
	if result.LiveStatus != subscription.StatusActive {
		s.warning.Fprintf(s.out, "! Stripe reports this subscription as %s\n", result.LiveStatus)
	}
	switch {
	case result.MetadataUserID == "":
		s.warning.Fprintln(s.out, "! subscription carries no userId metadata")
	case result.MetadataUserID != userID:
		s.warning.Fprintf(s.out, "! subscription metadata names user %s\n", result.MetadataUserID)
	}
}

func (s *session) list(ctx context.Context) {
	limit := stripe.DefaultCheckoutListLimit
	if raw, ok := s.prompt(fmt.Sprintf("how many [%d]: ", limit)); ok && raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.failure.Fprintf(s.out, "✗ invalid count %q\n", raw)
			return
		}
		limit = n
	}

	completions, err := s.ops.ListCheckoutCompletions(ctx, limit)
	if err != nil {
		s.failure.Fprintf(s.out, "✗ failed to list checkouts: %v\n", err)
		return
	}
	if len(completions) == 0 {
		s.warning.Fprintln(s.out, "! no checkout completions found")
		return
	}

	tw := tabwriter.NewWriter(s.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "CREATED\tEVENT\tSESSION\tUSER ID\tSUBSCRIPTION\tCUSTOMER")
	for _, c := range completions {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			c.Created.Format(time.RFC3339), c.EventID, c.SessionID,
			orDash(c.UserID), orDash(c.SubscriptionID), orDash(c.CustomerID))
	}
	_ = tw.Flush()
	s.success.Fprintf(s.out, "✓ %d checkout completions\n", len(completions))
}

func (s *session) lookup(ctx context.Context) {
	query, ok := s.prompt("email or customer id: ")
	if !ok || query == "" {
		s.failure.Fprintln(s.out, "✗ a query is required")
		return
	}

	report, err := s.ops.LookupUser(ctx, query)
	if errors.Is(err, subscription.ErrUserNotFound) {
		s.warning.Fprintf(s.out, "! no user matches %s\n", query)
		return
	}
	if err != nil {
		s.failure.Fprintf(s.out, "✗ lookup failed: %v\n", err)
		return
	}

	u := report.User
	sub := u.Subscription
	tw := tabwriter.NewWriter(s.out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "user id\t%s\n", u.ID)
	fmt.Fprintf(tw, "email\t%s\n", orDash(u.Email))
	fmt.Fprintf(tw, "plan\t%s\n", sub.EffectivePlan())
	fmt.Fprintf(tw, "status\t%s\n", orDash(string(sub.Status)))
	fmt.Fprintf(tw, "customer\t%s\n", orDash(sub.StripeCustomerID))
	fmt.Fprintf(tw, "subscription\t%s\n", orDash(sub.StripeSubscriptionID))
	if sub.CurrentPeriodEnd.IsZero() {
		fmt.Fprintln(tw, "period end\t-")
	} else {
		fmt.Fprintf(tw, "period end\t%s\n", sub.CurrentPeriodEnd.Format(time.RFC3339))
	}
	fmt.Fprintf(tw, "cancel at period end\t%t\n", sub.CancelAtPeriodEnd)
	fmt.Fprintf(tw, "credits\t%d available / %d lifetime\n", u.Credits.Available, u.Credits.Lifetime)
	_ = tw.Flush()

	if len(report.Transitions) > 0 {
		s.heading.Fprintln(s.out, "recent transitions")
		for _, e := range report.Transitions {
			fmt.Fprintf(s.out, "  %s  %-9s %s → %s (%s) +%d credits\n",
				e.Timestamp.Format(time.RFC3339), e.Source, e.OldPlan, e.NewPlan, e.Status, e.CreditsGranted)
		}
	}
	if sub.Status != "" && !sub.Status.Known() {
		s.warning.Fprintf(s.out, "! stored status %q is not a known subscription status\n", sub.Status)
	}
	s.success.Fprintln(s.out, "✓ lookup complete")
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
