package engine

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"strings"

	"github.com/ended/simplecoin-rpc-client/internal/report"
)

// Command enumerates the operations an operator can invoke.
type Command string

const (
	CommandPull           Command = "pull"
	CommandDisburse       Command = "disburse"
	CommandConfirm        Command = "confirm"
	CommandAssociate      Command = "associate"
	CommandResetAllLocked Command = "reset_all_locked"
	CommandLocalAssociate Command = "local_associate"
	CommandDumpIncomplete Command = "dump_incomplete"
	CommandDumpComplete   Command = "dump_complete"
)

type handler func(ctx context.Context, args []string) error

func (e *Engine) handlers() map[Command]handler {
	return map[Command]handler{
		CommandPull: func(ctx context.Context, _ []string) error {
			_, err := e.Pull(ctx)
			return err
		},
		CommandDisburse: func(ctx context.Context, _ []string) error {
			_, err := e.Disburse(ctx)
			return err
		},
		CommandConfirm: func(ctx context.Context, _ []string) error {
			_, err := e.Confirm(ctx)
			return err
		},
		CommandAssociate: func(ctx context.Context, _ []string) error {
			_, err := e.Associate(ctx)
			return err
		},
		CommandResetAllLocked: func(ctx context.Context, _ []string) error {
			_, err := e.ResetAllLocked(ctx, e.opts.Confirm)
			return err
		},
		CommandLocalAssociate: func(ctx context.Context, args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("local_associate requires exactly one argument: the transaction id")
			}
			_, err := e.LocalAssociate(ctx, args[0])
			return err
		},
		CommandDumpIncomplete: e.dumpIncomplete,
		CommandDumpComplete:   e.dumpComplete,
	}
}

var commands = []Command{
	CommandPull,
	CommandDisburse,
	CommandConfirm,
	CommandAssociate,
	CommandResetAllLocked,
	CommandLocalAssociate,
	CommandDumpIncomplete,
	CommandDumpComplete,
}

// ParseCommand maps an operator-supplied name to a Command.
func ParseCommand(name string) (Command, error) {
	for _, cmd := range commands {
		if string(cmd) == name {
			return cmd, nil
		}
	}
	names := make([]string, len(commands))
	for i, cmd := range commands {
		names[i] = string(cmd)
	}
	sort.Strings(names)
	return "", fmt.Errorf("unknown command %q (known: %s)", name, strings.Join(names, ", "))
}

// Run dispatches a command to its handler. Panics inside a handler are
// converted to a logged failure return so a bug in one operation cannot take
// the process down mid-transaction without a trace.
func (e *Engine) Run(ctx context.Context, cmd Command, args ...string) (err error) {
	h, ok := e.handlers()[cmd]
	if !ok {
		return fmt.Errorf("unknown command %q", cmd)
	}

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("unhandled panic in command",
				"command", string(cmd),
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()))
			err = fmt.Errorf("command %s panicked: %v", cmd, r)
		}
	}()

	if err := h(ctx, args); err != nil {
		e.logger.Error("command failed", "command", string(cmd), "error", err)
		return err
	}
	return nil
}

func (e *Engine) dumpIncomplete(ctx context.Context, _ []string) error {
	unpaidLocked, err := e.repo.UnpaidLocked(ctx)
	if err != nil {
		return err
	}
	if err := report.Render(e.opts.ReportOut, fmt.Sprintf("Unpaid locked %s payouts", e.opts.Currency), unpaidLocked); err != nil {
		return err
	}

	paidUnassoc, err := e.repo.PaidUnassociated(ctx)
	if err != nil {
		return err
	}
	if err := report.Render(e.opts.ReportOut, fmt.Sprintf("Paid un-associated %s payouts", e.opts.Currency), paidUnassoc); err != nil {
		return err
	}

	ready, err := e.repo.UnpaidUnlocked(ctx)
	if err != nil {
		return err
	}
	return report.Render(e.opts.ReportOut, fmt.Sprintf("%s payouts ready to pay", e.opts.Currency), ready)
}

func (e *Engine) dumpComplete(ctx context.Context, _ []string) error {
	completed, err := e.repo.Completed(ctx)
	if err != nil {
		return err
	}
	return report.Render(e.opts.ReportOut, fmt.Sprintf("Paid and associated %s payouts", e.opts.Currency), completed)
}
