package cli

import (
	"bufio"
	"context"
	"fmt"
	"strings"
)

// printlnFn is a test seam for user-facing output.
var printlnFn = fmt.Println

// execIface defines the minimal command surface the REPL needs to
// operate. The real App type satisfies this interface; tests can provide
// a lightweight stub.
type execIface interface {
	isLoggedIn() bool
	Login(ctx context.Context) error
	Logout(ctx context.Context) error
	Add(ctx context.Context) error
	List(ctx context.Context) error
	Done(ctx context.Context) error
	Today(ctx context.Context) error
	Pick(ctx context.Context) error
	Attach(ctx context.Context) error
	Sync(ctx context.Context) error
	ForcePush(ctx context.Context) error
	Status(ctx context.Context) error
	Retrigger(ctx context.Context) error
	Master(ctx context.Context) error
	Migrate(ctx context.Context) error
}

// runREPL reads a line from the scanner, parses the first token as the
// command, and dispatches to methods on 'a'. Unknown commands are
// reported back to the user. The loop exits on scanner EOF or when the
// user types "exit" or "quit".
//
// Any errors returned by command handlers are ignored here; handlers log
// their own errors. This keeps the loop resilient and focused on I/O.
func runREPL(ctx context.Context, a execIface, statusFn func() string, scanner *bufio.Scanner) {
	for {
		printlnFn(fmt.Sprintf("ts> %s > ", statusFn()))
		if !scanner.Scan() {
			return
		}
		line := scanner.Text()
		parts := strings.Fields(line)
		if len(parts) == 0 {
			continue
		}
		cmd := parts[0]

		switch cmd {
		case "help":
			if a.isLoggedIn() {
				printlnFn("Available commands: add, (l)ist, done, today, pick, attach, sync, force-push, status, master, retrigger, logout, exit")
			} else {
				printlnFn("Available commands: login, exit")
			}

		case "login":
			_ = a.Login(ctx)

		case "logout":
			_ = a.Logout(ctx)

		case "add":
			_ = a.Add(ctx)

		case "l", "list":
			_ = a.List(ctx)

		case "done":
			_ = a.Done(ctx)

		case "today":
			_ = a.Today(ctx)

		case "pick":
			_ = a.Pick(ctx)

		case "attach":
			_ = a.Attach(ctx)

		case "sync":
			_ = a.Sync(ctx)

		case "force-push":
			_ = a.ForcePush(ctx)

		case "status":
			_ = a.Status(ctx)

		case "retrigger":
			_ = a.Retrigger(ctx)

		case "master":
			_ = a.Master(ctx)

		case "migrate":
			_ = a.Migrate(ctx)

		case "exit", "quit":
			printlnFn("Bye!")
			return

		default:
			printlnFn("Unknown command:", cmd)
		}
	}
}
