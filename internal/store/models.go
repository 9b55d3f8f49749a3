package store

// Connection is one declarative connection row (spec §3). The
// connection id is also the derived app-id of its worker.
type Connection struct {
	ConnectionID    string `db:"connection_id"`
	ProtocolCode    string `db:"protocol_code"`
	Host            string `db:"host"`
	Port            int    `db:"port"`
	TimeoutSeconds  int    `db:"timeout_seconds"`
	RetryCount      int    `db:"retry_count"`
	PropertiesBlob  string `db:"properties_blob"`
	UseFlag         bool   `db:"use_flag"`
	UpdatedAt       int64  `db:"updated_at"`
}

// Block is one block row beneath a Connection (spec §3).
type Block struct {
	BlockID        int64  `db:"block_id"`
	ConnectionID   string `db:"connection_id"`
	Direction      string `db:"direction"` // ro | rw | wo
	Trigger        string `db:"trigger"`   // cyc | evt
	Schedule       string `db:"schedule"`
	Standby        bool   `db:"standby"`
	PropertiesBlob string `db:"properties_blob"`
	UpdatedAt      int64  `db:"updated_at"`
}

// TagMapping is one tag-mapping row beneath a Block (spec §3).
type TagMapping struct {
	BlockID        int64   `db:"block_id"`
	TagID          string  `db:"tag_id"`
	Field          string  `db:"field"`
	Scale          float64 `db:"scale"`
	Offset         float64 `db:"offset"`
	Low            *float64 `db:"low"`
	High           *float64 `db:"high"`
	Deadband       float64 `db:"deadband"`
	PropertiesBlob string  `db:"properties_blob"`
}

// AppRegistryRow is the persisted app-registry row (spec §3).
type AppRegistryRow struct {
	AppID        string  `db:"app_id"`
	Category     string  `db:"category"` // interface | addon
	Module       string  `db:"module"`
	Enabled      bool    `db:"enabled"`
	ConfigBlob   string  `db:"config_blob"`
	ConnectionID *string `db:"connection_id"`
	Token        *string `db:"token"`
	ExpiresAt    *int64  `db:"expires_at"`
	UpdatedAt    int64   `db:"updated_at"`
}

// ProtocolPropertyField is one row of the protocol property schema
// (spec §4.3): an ordered (position, key, type) tuple used by the
// out-of-scope CSV importer to decode positional columns.
type ProtocolPropertyField struct {
	ProtocolCode string `db:"protocol_code"`
	Layer        string `db:"layer"`
	Position     int    `db:"position"`
	Key          string `db:"key"`
	Type         string `db:"type"`
}
