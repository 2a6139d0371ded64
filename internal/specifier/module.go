package specifier

// SourceModule is one node's worth of data prior to being linked into a
// graph: the tuple spec §3 describes.
type SourceModule struct {
	Specifier      Specifier
	SourceText     string
	MediaType      MediaType
	Imports        []Import
	DynamicImports []Import
	ReExports      []ReExport
	SideEffects    SideEffects
	Environments   EnvironmentSet
	IsEntry        bool
	Transformed    bool
}

// AllImports returns static and dynamic imports together, in the order
// static imports then dynamic imports.
func (m *SourceModule) AllImports() []Import {
	all := make([]Import, 0, len(m.Imports)+len(m.DynamicImports))
	all = append(all, m.Imports...)
	all = append(all, m.DynamicImports...)
	return all
}
