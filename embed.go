package orchestra

import _ "embed"

// DefaultConfig is the agent configuration used when no orchestra.yaml is found.
//
//go:embed config/orchestra.yaml
var DefaultConfig []byte
