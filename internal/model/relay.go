package model

// RelayTarget is the preferred address/port substituted into eligible nodes.
// Port is kept as text because it usually arrives as a query parameter.
type RelayTarget struct {
	Address string
	Port    string
}

// Enabled reports whether both halves are present; rewriting is a no-op otherwise.
func (r RelayTarget) Enabled() bool {
	return r.Address != "" && r.Port != ""
}
