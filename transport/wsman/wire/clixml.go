package wire

import (
	"encoding/json"
	"fmt"
)

// encodeObject and decodeObject carry a message's logical payload (a
// primitive value, a map of named properties, or an error/record struct)
// across the wire.
//
// The real PSRP object model (MS-PSRP §2.2.5, "CLIXML") supports a rich set
// of .NET primitive and complex type tags, nested PSObjects with adapted
// and extended properties, and circular-reference tracking. None of that
// model appears anywhere in the retrieval pack — neither pypsrp nor the
// teacher serialize it themselves, both defer to an external psrpcore-style
// library. Rather than guess at the exact CLIXML element tags, this codec
// uses JSON as its object encoding: it preserves the same logical shapes
// (scalars, string-keyed maps, slices) that the record and event types in
// package events need, without claiming wire compatibility with a real
// Windows PowerShell peer.
func encodeObject(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("wire: encode object: %w", err)
	}
	return b, nil
}

func decodeObject(data []byte, out any) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("wire: decode object: %w", err)
	}
	return nil
}
