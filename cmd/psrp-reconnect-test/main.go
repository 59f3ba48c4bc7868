// psrp-reconnect-test exercises the disconnect/reconnect round trip against
// a WinRM server: it opens a pool, runs a long-running pipeline, disconnects
// the pool, reconnects, and either resumes the same pipeline handle or
// rediscovers it from scratch through Enumerate/CreateDisconnectedPowerShells
// (spec §4.6) depending on -enumerate.
//
// Usage:
//
//	psrp-reconnect-test -server host -user user [-enumerate]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"golang.org/x/term"

	"github.com/smnsjas/go-psrp/codec"
	"github.com/smnsjas/go-psrp/pipeline"
	"github.com/smnsjas/go-psrp/runspace"
	"github.com/smnsjas/go-psrp/transport/wsman"
	"github.com/smnsjas/go-psrp/transport/wsman/auth"
	"github.com/smnsjas/go-psrp/transport/wsman/httptransport"
	"github.com/smnsjas/go-psrp/transport/wsman/wire"
)

func main() {
	server := flag.String("server", "", "target WinRM server hostname")
	user := flag.String("user", "", "username for Basic authentication")
	useTLS := flag.Bool("tls", false, "use HTTPS")
	insecure := flag.Bool("insecure", false, "skip TLS certificate verification")
	settle := flag.Duration("settle", 2*time.Second, "pause between disconnect and reconnect")
	enumerate := flag.Bool("enumerate", false, "reclaim the pool via Enumerate/CreateDisconnectedPowerShells instead of reusing the local handle")
	flag.Parse()

	if *server == "" || *user == "" {
		fmt.Fprintln(os.Stderr, "usage: psrp-reconnect-test -server host -user user")
		os.Exit(1)
	}

	fmt.Fprint(os.Stderr, "Password: ")
	passBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "reading password: %v\n", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	p := 5985
	scheme := "http"
	if *useTLS {
		p, scheme = 5986, "https"
	}
	endpoint := fmt.Sprintf("%s://%s:%d/wsman", scheme, *server, p)

	var httpOpts []httptransport.HTTPTransportOption
	if *insecure {
		httpOpts = append(httpOpts, httptransport.WithInsecureSkipVerify(true))
	}
	httpOpts = append(httpOpts, httptransport.WithRoundTripper(auth.NewBasicAuth(auth.Credentials{
		Username: *user,
		Password: string(passBytes),
	}).Transport))
	transport := wsman.NewTransport(wsman.NewClient(endpoint, httptransport.NewHTTPTransport(httpOpts...)))

	poolCodec := wire.NewPool(uuid.New())
	rp := runspace.New(poolCodec, transport,
		runspace.WithLogger(logger),
		runspace.WithRunspaces(1, 1),
	)

	ctx := context.Background()

	fmt.Println("Opening runspace pool...")
	if err := rp.Open(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "open: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Open. Pool id: %s\n", rp.ID())

	fmt.Println("Starting a long-running pipeline...")
	ps := pipeline.NewPowerShell(rp, wire.NewPipeline(poolCodec, uuid.New()), nil)
	ps.AddScript("Start-Sleep -Seconds 300")
	if _, err := ps.InvokeAsync(ctx, nil, nil, true); err != nil {
		fmt.Fprintf(os.Stderr, "invoke: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Pipeline started. Pipeline id: %s\n", ps.ID())

	fmt.Println("Disconnecting...")
	if err := rp.Disconnect(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "disconnect: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Disconnected. State: %s\n", rp.State())

	time.Sleep(*settle)

	if *enumerate {
		reclaimExisting(ctx, transport, rp.ID())
		return
	}

	fmt.Println("Reconnecting...")
	if err := rp.Connect(ctx, false); err != nil {
		fmt.Fprintf(os.Stderr, "reconnect: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Reconnected. State: %s\n", rp.State())

	avail, err := rp.GetAvailableRunspaces(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "get available runspaces: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Available runspaces after reconnect: %d\n", avail)

	if err := rp.Close(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "close: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("Closed. Reconnect round trip succeeded.")
}

// reclaimExisting rediscovers poolID through Enumerate and reconnects to it
// as a brand new client would, with no memory of having opened it itself
// (spec §4.6). This is the path a process restarted after a crash takes.
func reclaimExisting(ctx context.Context, transport codec.Transport, poolID uuid.UUID) {
	pools, err := runspace.Enumerate(ctx, transport, func(id uuid.UUID) codec.Pool {
		return wire.NewPool(id)
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "enumerate: %v\n", err)
		os.Exit(1)
	}

	var found *runspace.RunspacePool
	for _, rp := range pools {
		if rp.ID() == poolID {
			found = rp
			break
		}
	}
	if found == nil {
		fmt.Fprintf(os.Stderr, "enumerate: pool %s not reported by server\n", poolID)
		os.Exit(1)
	}
	fmt.Printf("Found pool %s via Enumerate. State: %s\n", found.ID(), found.State())

	poolCodec := found.Codec().(*wire.Pool)
	pipelines := pipeline.CreateDisconnectedPowerShells(found, func(id uuid.UUID) codec.PowerShellCodec {
		return wire.NewPipeline(poolCodec, id)
	}, nil)
	fmt.Printf("CreateDisconnectedPowerShells reported %d attached pipeline(s)\n", len(pipelines))

	fmt.Println("Reconnecting as a new client...")
	if err := found.Connect(ctx, true); err != nil {
		fmt.Fprintf(os.Stderr, "reconnect: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Reconnected. State: %s\n", found.State())

	for _, ps := range pipelines {
		fmt.Printf("Reclaiming pipeline %s...\n", ps.ID())
		if _, err := ps.Connect(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "reclaim pipeline %s: %v\n", ps.ID(), err)
			os.Exit(1)
		}
		fmt.Printf("Pipeline %s reclaimed. State: %s\n", ps.ID(), ps.State())
	}

	if err := found.Close(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "close: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("Closed. Enumerate-based reclaim round trip succeeded.")
}
