// psrp-client is an interactive-ish WinRM client: it opens a RunspacePool
// against a remote host over WSMan, runs either a single script or a
// line-at-a-time REPL read from stdin, and prints results.
//
// Usage:
//
//	psrp-client -server host -user user [-domain DOM] [-tls] [-auth basic|ntlm|negotiate] [-script '...']
//
// Password is taken from -pass, then $PSRP_PASSWORD, then an interactive
// prompt (hidden if stdin is a terminal).
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/term"

	"github.com/smnsjas/go-psrp/codec"
	internallog "github.com/smnsjas/go-psrp/internal/log"
	"github.com/smnsjas/go-psrp/psrp"
	"github.com/smnsjas/go-psrp/transport/wsman"
	"github.com/smnsjas/go-psrp/transport/wsman/auth"
	"github.com/smnsjas/go-psrp/transport/wsman/httptransport"
	"github.com/smnsjas/go-psrp/transport/wsman/wire"
)

func main() {
	server := flag.String("server", "", "target WinRM server hostname")
	port := flag.Int("port", 0, "WinRM port (default 5985, or 5986 with -tls)")
	user := flag.String("user", "", "username for authentication")
	pass := flag.String("pass", "", "password (falls back to $PSRP_PASSWORD, then a prompt)")
	domain := flag.String("domain", "", "domain for NTLM/Kerberos authentication")
	useTLS := flag.Bool("tls", false, "use HTTPS")
	insecure := flag.Bool("insecure", false, "skip TLS certificate verification")
	scheme := flag.String("auth", "basic", "authentication scheme: basic, ntlm, or negotiate")
	realm := flag.String("realm", "", "Kerberos realm (negotiate scheme)")
	spn := flag.String("spn", "", "target SPN (negotiate scheme, default HTTP/<server>)")
	script := flag.String("script", "", "script to run, then exit (omit for an interactive REPL)")
	timeout := flag.Duration("timeout", 60*time.Second, "HTTP request timeout")
	loglevel := flag.String("loglevel", "warn", "log level: debug, info, warn, or error")
	logfile := flag.String("logfile", "", "write logs to this file instead of stderr, rotating at 10MB (keeps 3 backups)")
	flag.Parse()

	if *server == "" || *user == "" {
		fmt.Fprintln(os.Stderr, "usage: psrp-client -server host -user user [-script '...']")
		os.Exit(1)
	}

	var logWriter io.Writer = os.Stderr
	if *logfile != "" {
		rf, err := internallog.NewRotatingFile(*logfile, 10*1024*1024, 3)
		if err != nil {
			fmt.Fprintf(os.Stderr, "open logfile: %v\n", err)
			os.Exit(1)
		}
		defer rf.Close()
		logWriter = rf
	}
	handler := internallog.NewRedactingHandler(slog.NewTextHandler(logWriter, &slog.HandlerOptions{Level: parseLevel(*loglevel)}))
	logger := slog.New(handler)

	p := *port
	if p == 0 {
		p = 5985
		if *useTLS {
			p = 5986
		}
	}
	schemeStr := "http"
	if *useTLS {
		schemeStr = "https"
	}
	endpoint := fmt.Sprintf("%s://%s:%d/wsman", schemeStr, *server, p)

	creds := auth.Credentials{Username: *user, Password: getPassword(*pass), Domain: *domain}

	authenticator, err := buildAuthenticator(*scheme, creds, *realm, *spn, *server, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "psrp-client: %v\n", err)
		os.Exit(1)
	}

	httpOpts := []httptransport.HTTPTransportOption{
		httptransport.WithTimeout(*timeout),
	}
	if *insecure {
		httpOpts = append(httpOpts, httptransport.WithInsecureSkipVerify(true))
	}
	httpOpts = append(httpOpts, httptransport.WithRoundTripper(authenticator.Transport))
	httpTransport := httptransport.NewHTTPTransport(httpOpts...)

	wsmanClient := wsman.NewClient(endpoint, httpTransport)
	transport := wsman.NewTransport(wsmanClient)
	poolCodec := wire.NewPool(uuid.New())

	c, err := psrp.New(poolCodec, transport,
		psrp.WithLogger(logger),
		psrp.WithIdentity(*user, *server),
		psrp.WithPipelineCodec(func() (codec.PowerShellCodec, error) {
			return wire.NewPipeline(poolCodec, uuid.New()), nil
		}),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "psrp-client: creating client: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	fmt.Fprintf(os.Stderr, "Connecting to %s (%s, %s auth)...\n", endpoint, authenticator.Name(), *scheme)
	if err := c.Open(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "psrp-client: open: %v\n", err)
		os.Exit(1)
	}
	defer c.Close(ctx)

	if *script != "" {
		runScript(ctx, c, *script)
		return
	}
	repl(ctx, c)
}

func buildAuthenticator(scheme string, creds auth.Credentials, realm, spn, server string, logger *slog.Logger) (auth.Authenticator, error) {
	switch strings.ToLower(scheme) {
	case "basic":
		return auth.NewBasicAuth(creds), nil
	case "ntlm":
		return auth.NewNTLMAuth(creds, auth.WithNTLMLogger(logger)), nil
	case "negotiate", "kerberos":
		targetSPN := spn
		if targetSPN == "" {
			targetSPN = "HTTP/" + server
		}
		provider, err := auth.NewKerberosProvider(auth.KerberosProviderConfig{
			TargetSPN:   targetSPN,
			Realm:       realm,
			Credentials: &creds,
		})
		if err != nil {
			return nil, fmt.Errorf("building Kerberos provider: %w", err)
		}
		return auth.NewNegotiateAuth(provider, auth.WithNegotiateLogger(logger)), nil
	default:
		return nil, fmt.Errorf("unknown -auth scheme %q (want basic, ntlm, or negotiate)", scheme)
	}
}

func runScript(ctx context.Context, c *psrp.Client, script string) {
	result, err := c.Execute(ctx, script)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	printResult(result)
	if result.HadErrors {
		os.Exit(1)
	}
}

func repl(ctx context.Context, c *psrp.Client) {
	fmt.Fprintln(os.Stderr, "Connected. Enter PowerShell, or \"exit\" to quit.")
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Fprint(os.Stderr, "PS> ")
		if !scanner.Scan() {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			return
		}
		result, err := c.Execute(ctx, line)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			continue
		}
		printResult(result)
	}
}

func printResult(result *psrp.Result) {
	for _, v := range result.Output {
		fmt.Println(formatObject(v))
	}
	for _, e := range result.Errors {
		fmt.Fprintf(os.Stderr, "error: %s\n", e.Message)
	}
}

// getPassword returns the password from a flag, then $PSRP_PASSWORD, then an
// interactive prompt hidden if stdin is a terminal.
func getPassword(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if envPass := os.Getenv("PSRP_PASSWORD"); envPass != "" {
		return envPass
	}

	fmt.Fprint(os.Stderr, "Password: ")
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		passBytes, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return ""
		}
		return string(passBytes)
	}

	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return ""
	}
	return strings.TrimSpace(line)
}

// formatObject renders a JSON-decoded pipeline output value for display,
// unescaping the CLIXML-style control-character sentinels our codec carries
// through for strings containing CR/LF.
func formatObject(v any) string {
	switch val := v.(type) {
	case nil:
		return "<nil>"
	case string:
		result := val
		result = strings.ReplaceAll(result, "_x000D__x000A_", "\n")
		result = strings.ReplaceAll(result, "_x000D_", "\r")
		result = strings.ReplaceAll(result, "_x000A_", "\n")
		return result
	case map[string]any:
		parts := make([]string, 0, len(val))
		for k, prop := range val {
			parts = append(parts, fmt.Sprintf("%s=%s", k, formatObject(prop)))
		}
		return strings.Join(parts, " ")
	case []any:
		items := make([]string, 0, len(val))
		for _, item := range val {
			items = append(items, formatObject(item))
		}
		return "[" + strings.Join(items, ", ") + "]"
	default:
		return fmt.Sprintf("%v", v)
	}
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "error":
		return slog.LevelError
	default:
		return slog.LevelWarn
	}
}
