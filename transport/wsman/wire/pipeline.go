package wire

import (
	"github.com/google/uuid"

	"github.com/smnsjas/go-psrp/codec"
)

// hasSecureString reports whether any parameter across statements carries a
// SecureString value, per spec §4.5/§9's MissingCipher contract.
func hasSecureString(statements []codec.Statement) bool {
	for _, st := range statements {
		for _, cmd := range st.Commands {
			for _, p := range cmd.Parameters {
				if _, ok := p.Value.(SecureString); ok {
					return true
				}
			}
		}
	}
	return false
}

// Pipeline implements codec.PowerShellCodec over a shared Pool.
type Pipeline struct {
	id         uuid.UUID
	pool       *Pool
	statements []codec.Statement
	opts       codec.PowerShellOptions
}

// NewPipeline creates a Pipeline codec sharing pool's session key state.
func NewPipeline(pool *Pool, id uuid.UUID) *Pipeline {
	return &Pipeline{id: id, pool: pool}
}

func (p *Pipeline) ID() uuid.UUID { return p.id }

func (p *Pipeline) Configure(statements []codec.Statement, opts codec.PowerShellOptions) error {
	p.statements = statements
	p.opts = opts
	return nil
}

func (p *Pipeline) Start() error {
	if hasSecureString(p.statements) && !p.pool.keyNegotiated {
		return codec.ErrMissingCipher
	}
	return p.pool.enqueue(MessageCreatePipeline, p.id, struct {
		Statements []codec.Statement
		Options    codec.PowerShellOptions
	}{p.statements, p.opts})
}

func (p *Pipeline) Send(item any) error {
	if ss, ok := item.(SecureString); ok && !p.pool.keyNegotiated {
		_ = ss
		return codec.ErrMissingCipher
	}
	return p.pool.enqueue(MessagePipelineInput, p.id, item)
}

func (p *Pipeline) SendEnd() error {
	return p.pool.enqueue(MessageEndOfPipelineInput, p.id, struct{}{})
}

func (p *Pipeline) Signal() error {
	return p.pool.enqueue(MessagePipelineSignal, p.id, struct{}{})
}

var _ codec.PowerShellCodec = (*Pipeline)(nil)

// CommandMetadata implements codec.CommandMetadataCodec over a shared Pool.
type CommandMetadata struct {
	id            uuid.UUID
	pool          *Pool
	names         []string
	commandTypes  int
}

// NewCommandMetadata creates a CommandMetadata codec sharing pool's session
// key state.
func NewCommandMetadata(pool *Pool, id uuid.UUID) *CommandMetadata {
	return &CommandMetadata{id: id, pool: pool}
}

func (c *CommandMetadata) ID() uuid.UUID { return c.id }

func (c *CommandMetadata) ConfigureMetadata(names []string, commandTypes int) error {
	c.names = names
	c.commandTypes = commandTypes
	return nil
}

func (c *CommandMetadata) Start() error {
	return c.pool.enqueue(MessageGetCommandMetadata, c.id, struct {
		Names        []string
		CommandTypes int
	}{c.names, c.commandTypes})
}

func (c *CommandMetadata) Send(item any) error      { return c.pool.enqueue(MessagePipelineInput, c.id, item) }
func (c *CommandMetadata) SendEnd() error           { return c.pool.enqueue(MessageEndOfPipelineInput, c.id, struct{}{}) }
func (c *CommandMetadata) Signal() error            { return c.pool.enqueue(MessagePipelineSignal, c.id, struct{}{}) }

var _ codec.CommandMetadataCodec = (*CommandMetadata)(nil)
