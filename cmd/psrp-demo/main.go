// psrp-demo demonstrates concurrent PowerShell execution over a single
// RunspacePool using the child-process transport.
//
// Usage:
//
//	psrp-demo [-exe path/to/pwsh] [-concurrent N]
//
// By default it spawns "pwsh -NoLogo -NoProfile -Command -" as the child
// process speaking PSRP over stdio; this is the simplest Transport the
// module ships and needs no network, credentials, or remote host. Point
// -exe at any binary willing to read and write PSRP frames on its
// stdin/stdout to demo against something else.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/smnsjas/go-psrp/codec"
	"github.com/smnsjas/go-psrp/psrp"
	"github.com/smnsjas/go-psrp/transport/process"
	"github.com/smnsjas/go-psrp/transport/wsman/wire"
)

func main() {
	exe := flag.String("exe", "pwsh", "child process executable to speak PSRP over stdio")
	concurrent := flag.Int("concurrent", 3, "number of concurrent commands to run")
	runspaces := flag.Int("runspaces", 3, "max runspaces in the pool")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	poolCodec := wire.NewPool(uuid.New())
	transport := process.New(process.Command(*exe, "-NoLogo", "-NoProfile", "-Command", "-"), logger)

	c, err := psrp.New(poolCodec, transport,
		psrp.WithRunspaces(1, *runspaces),
		psrp.WithConcurrency(*concurrent, -1, 0),
		psrp.WithLogger(logger),
		psrp.WithPipelineCodec(func() (codec.PowerShellCodec, error) {
			return wire.NewPipeline(poolCodec, uuid.New()), nil
		}),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "psrp-demo: creating client: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	fmt.Printf("Opening runspace pool over %q...\n", *exe)
	if err := c.Open(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "psrp-demo: open: %v\n", err)
		os.Exit(1)
	}
	defer c.Close(ctx)
	fmt.Println("Open. Running commands concurrently...")

	commands := []struct{ name, script string }{
		{"Get hostname", "$env:COMPUTERNAME"},
		{"Get user", "$env:USERNAME"},
		{"Get date", "Get-Date -Format 'yyyy-MM-dd HH:mm:ss'"},
		{"Get PS version", "$PSVersionTable.PSVersion.ToString()"},
		{"Simple math", "1 + 1"},
	}

	var wg sync.WaitGroup
	start := time.Now()

	for i, cmd := range commands {
		wg.Add(1)
		go func(idx int, name, script string) {
			defer wg.Done()

			cmdStart := time.Now()
			fmt.Printf("[%d] Starting: %s\n", idx+1, name)

			result, err := c.Execute(ctx, script)
			elapsed := time.Since(cmdStart)
			if err != nil {
				fmt.Printf("[%d] ERROR: %s - %v (%.2fs)\n", idx+1, name, err, elapsed.Seconds())
				return
			}

			output := "<no output>"
			if len(result.Output) > 0 {
				output = fmt.Sprintf("%v", result.Output[0])
			}
			fmt.Printf("[%d] Done: %s = %s (%.2fs)\n", idx+1, name, output, elapsed.Seconds())
		}(i, cmd.name, cmd.script)
	}

	wg.Wait()
	fmt.Printf("\nAll %d commands completed in %.2fs\n", len(commands), time.Since(start).Seconds())
	active, queued, max := c.Utilization()
	fmt.Printf("Pool utilization: %d active, %d queued, %d max\n", active, queued, max)
}
