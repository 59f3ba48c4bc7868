package pipeline

import (
	"github.com/smnsjas/go-psrp/codec"
	"github.com/smnsjas/go-psrp/host"
	"github.com/smnsjas/go-psrp/runspace"
)

// CommandMetadata looks up the commands available on the peer matching a
// set of names (spec §4.5's CommandMetadata variant). Unlike PowerShell it
// is immutable once built: there is no fluent builder, only the
// constructor's arguments.
type CommandMetadata struct {
	*Pipeline
}

// NewCommandMetadata configures and builds a CommandMetadata pipeline bound
// to rp. names may include wildcards; commandTypes is a bitmask of the
// peer's CommandTypes enumeration restricting which kinds of command are
// returned.
func NewCommandMetadata(rp *runspace.RunspacePool, metaCodec codec.CommandMetadataCodec, h host.Host, names []string, commandTypes int) (*CommandMetadata, error) {
	if err := metaCodec.ConfigureMetadata(names, commandTypes); err != nil {
		return nil, err
	}
	return &CommandMetadata{Pipeline: newPipeline(rp, metaCodec, h)}, nil
}
