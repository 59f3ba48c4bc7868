package psrp_test

import (
	"context"
	"fmt"
	"log"

	"github.com/smnsjas/go-psrp/codec"
	"github.com/smnsjas/go-psrp/psrp"
)

// Example shows the shape of a Client session: open, run a script, close.
// poolCodec and transport come from a concrete Transport/Codec pair, such as
// the ones under package transport; this example omits constructing one
// since it is not executed (no "Output:" comment).
func Example() {
	var poolCodec codec.Pool
	var transport codec.Transport

	c, err := psrp.New(poolCodec, transport,
		psrp.WithRunspaces(1, 5),
		psrp.WithIdentity("administrator", "server.example.com"),
		psrp.WithPipelineCodec(func() (codec.PowerShellCodec, error) {
			return nil, nil
		}),
	)
	if err != nil {
		log.Fatal(err)
	}

	ctx := context.Background()
	if err := c.Open(ctx); err != nil {
		log.Fatal(err)
	}
	defer c.Close(ctx)

	result, err := c.Execute(ctx, "Get-Process | Select-Object -First 1")
	if err != nil {
		log.Fatal(err)
	}
	if result.HadErrors {
		for _, e := range result.Errors {
			fmt.Println("error:", e.Message)
		}
		return
	}
	fmt.Printf("received %d objects\n", len(result.Output))
}
