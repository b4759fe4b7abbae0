package mortar

type ActionConfigurator func(a *Action)

type Action struct {
	preview bool
}

// WithPreview shows the compiled SQL of every unit instead of executing it
func WithPreview() ActionConfigurator {
	return func(a *Action) {
		a.preview = true
	}
}

func CreateConfigurators(preview bool) []ActionConfigurator {
	var configurators []ActionConfigurator
	if preview {
		configurators = append(configurators, WithPreview())
	}

	return configurators
}

func newAction(cfs ...ActionConfigurator) *Action {
	act := new(Action)
	for _, f := range cfs {
		f(act)
	}

	return act
}
