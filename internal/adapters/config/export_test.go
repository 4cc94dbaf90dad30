package config

// WithDefaultPath replaces the location used when Load is given no path.
func (l *Loader) WithDefaultPath(path string) *Loader {
	l.defaultPath = path
	return l
}
