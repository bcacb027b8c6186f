package store

// MaxTransactItems is the DynamoDB limit on items in one TransactWriteItems call.
const MaxTransactItems = 100

// Config holds configuration for the Store.
type Config struct {
	// RelationshipTable is the name of the relationship table.
	// Default: "graft_relationships"
	RelationshipTable string `yaml:"relationship_table"`

	// UniqueTable is the name of the unique constraints table.
	// Default: "graft_unique_constraints"
	UniqueTable string `yaml:"unique_table"`

	// NumShards is the number of shards for the relationship table.
	// Higher values increase write throughput but require more parallel queries.
	// Default: 1 (no sharding, single query)
	// Max: 256
	//
	// Per-shard limits:
	//   - Writes: 1,000/sec
	//   - Reads: 3,000/sec
	NumShards int `yaml:"num_shards"`

	// TransactItemLimit caps the writes a session may stage before Commit
	// refuses the unit of work.
	// Default and max: MaxTransactItems
	TransactItemLimit int `yaml:"transact_item_limit"`
}

// DefaultConfig returns sensible defaults for small datasets.
func DefaultConfig() Config {
	return Config{
		RelationshipTable: "graft_relationships",
		UniqueTable:       "graft_unique_constraints",
		NumShards:         1,
		TransactItemLimit: MaxTransactItems,
	}
}

// validate ensures config values are within acceptable bounds.
func (c *Config) validate() {
	if c.RelationshipTable == "" {
		c.RelationshipTable = "graft_relationships"
	}
	if c.UniqueTable == "" {
		c.UniqueTable = "graft_unique_constraints"
	}
	if c.NumShards < 1 {
		c.NumShards = 1
	}
	if c.NumShards > 256 {
		c.NumShards = 256
	}
	if c.TransactItemLimit < 1 || c.TransactItemLimit > MaxTransactItems {
		c.TransactItemLimit = MaxTransactItems
	}
}
