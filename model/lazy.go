package model

// FireworkLoader is the minimal read path a LazyFirework needs from the
// store to materialize on demand (spec §4.9). The store package's
// concrete Store implements this.
type FireworkLoader interface {
	LoadFirework(fwID int) (*Firework, error)
}

// LazyFirework holds only a firework's id and name eagerly; everything
// else (spec, tasks, action, state_history) is fetched from the store the
// first time a caller asks for it. Workflow listings return these so that
// large spec/trackers/action payloads aren't pulled off disk until a
// caller actually needs them.
type LazyFirework struct {
	FwID int
	Name string

	loader   FireworkLoader
	loaded   *Firework
	loadErr  error
	didFetch bool
}

// NewLazyFirework wraps fwID/name with loader, deferring the full fetch.
func NewLazyFirework(fwID int, name string, loader FireworkLoader) *LazyFirework {
	return &LazyFirework{FwID: fwID, Name: name, loader: loader}
}

// Get materializes and returns the full Firework, fetching it from the
// loader at most once; subsequent calls return the cached result (or
// error).
func (l *LazyFirework) Get() (*Firework, error) {
	if !l.didFetch {
		l.loaded, l.loadErr = l.loader.LoadFirework(l.FwID)
		l.didFetch = true
	}
	return l.loaded, l.loadErr
}
