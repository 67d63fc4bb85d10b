package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	"taskminder/internal/app"
	"taskminder/internal/reminder"
	"taskminder/internal/taskstore"
)

// descriptionLimit mirrors the input bound of the mobile client.
const descriptionLimit = 20

const usage = `usage: taskminder [-config path] [-v] <command> [args]

commands:
  add [-at WHEN] <description>   add a task, optionally with a reminder
  list                           show tasks and their reminders
  toggle <id>                    flip a task's completed flag
  delete <id>                    delete a task and cancel its reminder
  clear [-yes]                   delete every task and reminder
  run                            run the reminder daemon

WHEN accepts RFC3339, "2006-01-02 15:04", "HH:MM", durations ("10m")
and cron expressions ("0 9 * * *"). A reminder must be at least
reminders.min_lead_time ahead (5s by default).
Task ids may be abbreviated to any unique prefix.
`

type cli struct {
	in     *bufio.Reader
	out    io.Writer
	errOut io.Writer
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("taskminder", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() { fmt.Fprint(stderr, usage) }
	cfgPath := fs.String("config", "./taskminder.yaml", "path to config (yaml or json)")
	verbose := fs.Bool("v", false, "verbose logging")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	rest := fs.Args()
	if len(rest) == 0 {
		fs.Usage()
		return 2
	}

	c := &cli{in: bufio.NewReader(stdin), out: stdout, errOut: stderr}
	cmd, cmdArgs := rest[0], rest[1:]

	var opts []app.Option
	switch {
	case *verbose:
		opts = append(opts, app.WithLogLevel("debug"))
	case cmd != "run":
		// Keep one-shot commands quiet unless something goes wrong.
		opts = append(opts, app.WithLogLevel("warn"))
	}

	var fn func(context.Context, *app.App, []string) error
	switch cmd {
	case "add":
		fn = c.add
	case "list", "ls":
		fn = c.list
	case "toggle", "done":
		fn = c.toggle
	case "delete", "rm":
		fn = c.delete
	case "clear":
		fn = c.clear
	case "run":
		fn = c.daemon
	case "help", "-h", "--help":
		fs.Usage()
		return 0
	default:
		fmt.Fprintf(stderr, "unknown command %q\n\n", cmd)
		fs.Usage()
		return 2
	}

	a, err := app.New(ctx, *cfgPath, opts...)
	if err != nil {
		fmt.Fprintln(stderr, "fatal:", err)
		return 1
	}
	err = fn(ctx, a, cmdArgs)
	if cmd != "run" {
		_ = a.Close()
	}
	if err != nil {
		fmt.Fprintln(stderr, "error:", err)
		if errors.Is(err, flag.ErrHelp) || taskstore.IsValidation(err) || errors.Is(err, errUsage) {
			return 2
		}
		return 1
	}
	return 0
}

var errUsage = errors.New("invalid arguments")

func (c *cli) add(ctx context.Context, a *app.App, args []string) error {
	fs := flag.NewFlagSet("add", flag.ContinueOnError)
	fs.SetOutput(c.errOut)
	at := fs.String("at", "", "when to remind (see WHEN)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	desc := strings.Join(fs.Args(), " ")
	if utf8.RuneCountInString(desc) >= descriptionLimit {
		fmt.Fprintf(c.errOut, "warning: description reached the %d character limit\n", descriptionLimit)
	}

	var (
		task taskstore.Task
		err  error
	)
	wantReminder := strings.TrimSpace(*at) != ""
	if d, ok := reminder.RelativeDelay(*at); ok {
		// relative delays count from the store clock
		task, err = a.Store().AddAfter(ctx, desc, d)
	} else {
		var remindAt time.Time
		if wantReminder {
			t, perr := a.Reminders().ParseAt(*at)
			if perr != nil {
				return fmt.Errorf("%w: -at %q: %v", errUsage, *at, perr)
			}
			remindAt = t
		}
		task, err = a.Store().Add(ctx, desc, remindAt)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "added %s %q\n", shortID(task.ID), task.Description)
	if task.HasReminder() {
		fmt.Fprintf(c.out, "reminder at %s\n", task.ScheduledAt.In(a.Reminders().Location()).Format("2006-01-02 15:04:05 MST"))
	} else if wantReminder {
		fmt.Fprintln(c.errOut, "warning: reminder could not be scheduled")
	}
	return nil
}

func (c *cli) list(ctx context.Context, a *app.App, args []string) error {
	if len(args) > 0 {
		return fmt.Errorf("%w: list takes no arguments", errUsage)
	}
	tasks := a.Store().Tasks()
	if len(tasks) == 0 {
		fmt.Fprintln(c.out, "no tasks")
		return nil
	}
	loc := a.Reminders().Location()
	for _, t := range tasks {
		fmt.Fprintln(c.out, formatTask(t, loc))
	}
	return nil
}

func formatTask(t taskstore.Task, loc *time.Location) string {
	mark := "[ ]"
	if t.Completed {
		mark = "[x]"
	}
	line := fmt.Sprintf("%s %s  %s  %s", mark, shortID(t.ID), t.CreatedAt.In(loc).Format("02/01/2006 15:04"), t.Description)
	if t.HasReminder() {
		line += "  (remind " + t.ScheduledAt.In(loc).Format("2006-01-02 15:04") + ")"
	}
	return line
}

func (c *cli) toggle(ctx context.Context, a *app.App, args []string) error {
	id, err := resolveID(a.Store().Tasks(), args)
	if err != nil {
		return err
	}
	if err := a.Store().Toggle(ctx, id); err != nil {
		return err
	}
	if t, ok := a.Store().Get(id); ok {
		fmt.Fprintln(c.out, formatTask(t, a.Reminders().Location()))
	}
	return nil
}

func (c *cli) delete(ctx context.Context, a *app.App, args []string) error {
	id, err := resolveID(a.Store().Tasks(), args)
	if err != nil {
		return err
	}
	if err := a.Store().Delete(ctx, id); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "deleted %s\n", shortID(id))
	return nil
}

func (c *cli) clear(ctx context.Context, a *app.App, args []string) error {
	fs := flag.NewFlagSet("clear", flag.ContinueOnError)
	fs.SetOutput(c.errOut)
	yes := fs.Bool("yes", false, "do not ask for confirmation")
	if err := fs.Parse(args); err != nil {
		return err
	}
	n := a.Store().Len()
	if !*yes {
		fmt.Fprintf(c.out, "Delete all %d tasks? This cannot be undone. [y/N] ", n)
		answer, _ := c.in.ReadString('\n')
		switch strings.ToLower(strings.TrimSpace(answer)) {
		case "y", "yes":
		default:
			fmt.Fprintln(c.out, "cancelled")
			return nil
		}
	}
	if err := a.Store().Clear(ctx); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "cleared %d tasks\n", n)
	return nil
}

func (c *cli) daemon(ctx context.Context, a *app.App, args []string) error {
	if len(args) > 0 {
		return fmt.Errorf("%w: run takes no arguments", errUsage)
	}
	if err := a.Start(ctx); err != nil {
		_ = a.Close()
		return err
	}

	reason := app.StopSignal
	select {
	case <-ctx.Done():
	case <-a.Done():
		reason = app.StopFatalError
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer cancel()
	if err := a.Stop(stopCtx, reason); err != nil {
		return err
	}
	return a.Err()
}

// resolveID accepts a full id or any unique prefix of one.
func resolveID(tasks []taskstore.Task, args []string) (string, error) {
	if len(args) != 1 || strings.TrimSpace(args[0]) == "" {
		return "", fmt.Errorf("%w: expected exactly one task id", errUsage)
	}
	want := strings.ToLower(strings.TrimSpace(args[0]))
	var match string
	for _, t := range tasks {
		id := strings.ToLower(t.ID)
		if id == want {
			return t.ID, nil
		}
		if strings.HasPrefix(id, want) {
			if match != "" {
				return "", fmt.Errorf("%w: id prefix %q is ambiguous", errUsage, want)
			}
			match = t.ID
		}
	}
	if match == "" {
		// Unknown ids are a no-op for the store; pass through unchanged.
		return args[0], nil
	}
	return match, nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
