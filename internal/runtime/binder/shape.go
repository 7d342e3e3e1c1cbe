package binder

// Param declares one handler parameter.
type Param struct {
	Name       string
	HasDefault bool
	// Default is used by the typed adapters when the parameter is not bound.
	// It must be assignable to the adapter's parameter type or be nil.
	Default any
}

// Required declares a parameter without a default.
func Required(name string) Param { return Param{Name: name} }

// Optional declares a parameter that falls back to def when not supplied.
func Optional(name string, def any) Param {
	return Param{Name: name, HasDefault: true, Default: def}
}

// Shape is the ordered parameter list of a handler.
type Shape []Param

// Names returns the parameter names in declaration order.
func (s Shape) Names() []string {
	names := make([]string, len(s))
	for i, p := range s {
		names[i] = p.Name
	}
	return names
}

// RequiredCount reports how many parameters have no default.
func (s Shape) RequiredCount() int {
	n := 0
	for _, p := range s {
		if !p.HasDefault {
			n++
		}
	}
	return n
}

// Index returns the position of the named parameter or -1.
func (s Shape) Index(name string) int {
	for i, p := range s {
		if p.Name == name {
			return i
		}
	}
	return -1
}
