package cli

import (
	"encoding/json"
	"fmt"
	"io"
)

// writeResult prints v as JSON or through the text renderer.
func writeResult(opts *RootOptions, w io.Writer, v any, text func(io.Writer)) error {
	if opts.Format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("encoding output: %w", err)
		}
		return nil
	}
	text(w)
	return nil
}
