package store

import "github.com/pelletier/go-toml/v2"

// DecodeProperties parses a properties_blob column (spec §3: Connection,
// Block, and TagMapping all carry one) as TOML, the way the (out-of-scope)
// CSV importer writes them. An empty blob decodes to an empty map.
func DecodeProperties(blob string) (map[string]any, error) {
	props := make(map[string]any)
	if blob == "" {
		return props, nil
	}
	if err := toml.Unmarshal([]byte(blob), &props); err != nil {
		return nil, err
	}
	return props, nil
}

// Properties decodes the connection's properties_blob.
func (c Connection) Properties() (map[string]any, error) { return DecodeProperties(c.PropertiesBlob) }

// Properties decodes the block's properties_blob.
func (b Block) Properties() (map[string]any, error) { return DecodeProperties(b.PropertiesBlob) }

// Properties decodes the tag mapping's properties_blob.
func (t TagMapping) Properties() (map[string]any, error) { return DecodeProperties(t.PropertiesBlob) }
