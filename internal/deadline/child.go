package deadline

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
)

const resultFD = 3

// IsChild reports whether this process was started by an Executor.
func IsChild() bool { return os.Getenv(childEnv) == "1" }

// ServeChild is the child-side entry point. It reads the request from stdin,
// runs the handler and writes the result to the inherited pipe. SIGTERM
// cancels the handler's context. The return value is the exit code.
func ServeChild(ctx context.Context, lookup Lookuper) int {
	out := os.NewFile(resultFD, "result")
	if out == nil {
		fmt.Fprintln(os.Stderr, "deadline: result pipe missing")
		return 2
	}
	closeOnExec(resultFD)
	defer out.Close()

	var req request
	if err := json.NewDecoder(os.Stdin).Decode(&req); err != nil {
		_ = json.NewEncoder(out).Encode(result{Error: fmt.Sprintf("decode request: %v", err)})
		return 2
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGTERM, os.Interrupt)
	defer stop()

	res := invoke(ctx, lookup, req)
	if err := json.NewEncoder(out).Encode(res); err != nil {
		fmt.Fprintf(os.Stderr, "deadline: write result: %v\n", err)
		return 1
	}
	return 0
}

func invoke(ctx context.Context, lookup Lookuper, req request) (res result) {
	fn, ok := lookup.Lookup(req.Handler)
	if !ok {
		return result{Error: fmt.Sprintf("unknown handler %q", req.Handler)}
	}
	defer func() {
		if r := recover(); r != nil {
			res = result{Error: fmt.Sprintf("%s panicked: %v", req.Handler, r)}
			fmt.Fprintf(os.Stderr, "deadline: %s panicked: %v\n%s", req.Handler, r, debug.Stack())
		}
	}()
	output, err := fn(ctx, req.Args)
	if err != nil {
		return result{Error: err.Error()}
	}
	return result{Output: output}
}
