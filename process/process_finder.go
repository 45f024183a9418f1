package process

// ProcessFinder lists running processes by name
type ProcessFinder interface {
	// FindProcessByName finds processes by their name (exact match), in the
	// order the system listing returns them
	FindProcessByName(name string) ([]ProcessInfo, error)
}

// ProcessFinderFunc adapts a function to ProcessFinder.
type ProcessFinderFunc func(name string) ([]ProcessInfo, error)

func (f ProcessFinderFunc) FindProcessByName(name string) ([]ProcessInfo, error) {
	return f(name)
}
