package core

// Item is the static subject of a trade: any product, service or asset being
// bought or sold. Items are not mutated by the session engine.
type Item struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Category    string         `json:"category,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// ToMap converts the item to its wire/event representation.
func (i Item) ToMap() map[string]any {
	m := map[string]any{
		"id":          i.ID,
		"name":        i.Name,
		"description": i.Description,
	}
	if i.Category != "" {
		m["category"] = i.Category
	}
	if len(i.Metadata) > 0 {
		m["metadata"] = i.Metadata
	}
	return m
}

// ItemFromMap reconstructs an item from its wire/event representation.
func ItemFromMap(m map[string]any) Item {
	item := Item{}
	if v, ok := m["id"].(string); ok {
		item.ID = v
	}
	if v, ok := m["name"].(string); ok {
		item.Name = v
	}
	if v, ok := m["description"].(string); ok {
		item.Description = v
	}
	if v, ok := m["category"].(string); ok {
		item.Category = v
	}
	if v, ok := m["metadata"].(map[string]any); ok {
		item.Metadata = v
	}
	return item
}
