package config

// ToolKind names a built-in pipeline tool implementation.
type ToolKind string

const (
	// ToolEcho returns the stage input unchanged (plus stage metadata)
	ToolEcho ToolKind = "echo"
	// ToolHTTP POSTs the stage input as JSON to a configured dependency
	ToolHTTP ToolKind = "http"
)

// IsValid checks if the tool kind is known
func (k ToolKind) IsValid() bool {
	switch k {
	case ToolEcho, ToolHTTP:
		return true
	default:
		return false
	}
}

// RequiresDependency reports whether stages using this tool must name a dependency
func (k ToolKind) RequiresDependency() bool {
	return k == ToolHTTP
}

// PersistenceDriver selects the thread store backend
type PersistenceDriver string

const (
	// DriverMemory keeps threads in process memory (lost on restart)
	DriverMemory PersistenceDriver = "memory"
	// DriverPostgres stores threads in PostgreSQL (DB_* environment)
	DriverPostgres PersistenceDriver = "postgres"
)

// IsValid checks if the persistence driver is known
func (d PersistenceDriver) IsValid() bool {
	return d == DriverMemory || d == DriverPostgres
}
