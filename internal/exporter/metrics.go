package exporter

// VMStatusKey is the label set of archer_vm_count.
type VMStatusKey struct {
	Status string
}

// StorageKey is the label set of the per-storage metrics.
type StorageKey struct {
	Name    string
	Backend string
}

// Labels returns the metric labels as a slice.
func (k VMStatusKey) Labels() []string {
	return []string{k.Status}
}

// Labels returns the metric labels as a slice.
func (k StorageKey) Labels() []string {
	return []string{k.Name, k.Backend}
}

// String returns a string representation for logs.
func (k StorageKey) String() string {
	return k.Name + "|" + k.Backend
}
