package mbtiles

import "fmt"

// Well-known metadata keys.
const (
	// MetaFormat names the tile payload type (png, jpg, pbf, webp).
	MetaFormat = "format"
	// MetaFormatter is the UTFGrid interactivity rendering hint.
	MetaFormatter = "formatter"
)

// DefaultFormat is the payload type assumed when metadata carries none.
const DefaultFormat = "pbf"

// SetMetadata inserts one (name, value) pair. The unique index on name
// makes re-inserting an existing key an error; import runs only ever
// populate a fresh container, so that surfaces genuine duplicates.
func (c *Container) SetMetadata(name, value string) error {
	if _, err := c.db.Exec(`INSERT INTO metadata (name, value) VALUES (?, ?)`, name, value); err != nil {
		return fmt.Errorf("insert metadata %s: %w", name, err)
	}
	return nil
}

// ReadMetadata returns the full metadata table as a flat map.
func (c *Container) ReadMetadata() (map[string]string, error) {
	rows, err := c.db.Query(`SELECT name, value FROM metadata`)
	if err != nil {
		return nil, fmt.Errorf("query metadata: %w", err)
	}
	defer func() { _ = rows.Close() }() // safe to ignore

	meta := make(map[string]string)
	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return nil, fmt.Errorf("scan metadata row: %w", err)
		}
		meta[name] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate metadata: %w", err)
	}
	return meta, nil
}

// TileFormat returns the effective payload format recorded in metadata,
// falling back to DefaultFormat when the key is absent.
func (c *Container) TileFormat() (string, error) {
	meta, err := c.ReadMetadata()
	if err != nil {
		return "", err
	}
	if f, ok := meta[MetaFormat]; ok && f != "" {
		return f, nil
	}
	return DefaultFormat, nil
}
