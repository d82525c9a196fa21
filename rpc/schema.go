package rpc

// Schema describes the method table for the explorer and schema endpoint.
type Schema struct {
	Policy  PolicySchema   `json:"policy"`
	Methods []MethodSchema `json:"methods"`
}

// PolicySchema names the claim privileged methods require.
type PolicySchema struct {
	Name       string `json:"name"`
	ClaimType  string `json:"claimType"`
	ClaimValue string `json:"claimValue"`
}

// MethodSchema describes one method.
type MethodSchema struct {
	Name        string   `json:"name"`
	Aliases     []string `json:"aliases,omitempty"`
	Description string   `json:"description"`
	Params      []Param  `json:"params"`
	Result      string   `json:"result"`
	Privileged  bool     `json:"privileged"`
}

// Schema returns the description of the dispatcher's table and policy.
func (d *Dispatcher) Schema() Schema {
	cfg := d.gate.Config()
	s := Schema{
		Policy: PolicySchema{
			Name:       cfg.PolicyName,
			ClaimType:  cfg.ClaimType,
			ClaimValue: cfg.ClaimValue,
		},
	}
	for _, m := range d.table.Methods() {
		params := m.Params
		if params == nil {
			params = []Param{}
		}
		s.Methods = append(s.Methods, MethodSchema{
			Name:        m.Name,
			Aliases:     m.Aliases,
			Description: m.Description,
			Params:      params,
			Result:      m.Result,
			Privileged:  d.gate.IsPrivileged(m.Name),
		})
	}
	return s
}
