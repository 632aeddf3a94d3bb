package agent

// Provider supplies dynamic instruction text at activation time.
// Implementations can derive instructions from files, clocks or any other
// source; the core passes the resolved text through unexamined.
type Provider interface {
	Instruction() (string, error)
}

// ProviderFunc adapts an ordinary function to the Provider interface.
type ProviderFunc func() (string, error)

// Instruction implements Provider.
func (f ProviderFunc) Instruction() (string, error) { return f() }

// Instruction is either a static string or a dynamic provider, resolved
// once per activation.
type Instruction struct {
	text     string
	provider Provider
}

// StaticInstruction creates an Instruction from a fixed string.
func StaticInstruction(text string) Instruction { return Instruction{text: text} }

// DynamicInstruction creates an Instruction from a provider.
func DynamicInstruction(p Provider) Instruction { return Instruction{provider: p} }

// Resolve returns the instruction text, invoking the provider if present.
func (i Instruction) Resolve() (string, error) {
	if i.provider != nil {
		return i.provider.Instruction()
	}
	return i.text, nil
}
