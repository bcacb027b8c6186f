package sqlstore

import "strings"

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// Config holds configuration for the SQLite store.
type Config struct {
	// Path is the database file path, or MemoryPath.
	Path string `yaml:"path"`

	// Tables maps entity type to table name.
	// Default: the relationship's Table hint, else the type name plus "s".
	Tables map[string]string `yaml:"tables,omitempty"`

	// IDColumn is the primary key column shared by all tables.
	// Default: "id"
	IDColumn string `yaml:"id_column,omitempty"`

	// BusyTimeoutMS is how long a connection waits on a locked database.
	// Default: 5000
	BusyTimeoutMS int `yaml:"busy_timeout_ms,omitempty"`
}

// validate fills defaults.
func (c *Config) validate() {
	if c.IDColumn == "" {
		c.IDColumn = "id"
	}
	if c.BusyTimeoutMS <= 0 {
		c.BusyTimeoutMS = 5000
	}
	if c.Tables == nil {
		c.Tables = make(map[string]string)
	}
}

func (c Config) inMemory() bool {
	return c.Path == MemoryPath || strings.Contains(c.Path, "mode=memory")
}
