// Package voices holds the enumerable voice catalog.
package voices

// Voice describes one selectable prebuilt voice.
type Voice struct {
	ID          string `json:"id"`
	Label       string `json:"label"`
	Description string `json:"description"`
}

var catalog = []Voice{
	{ID: "Kore", Label: "Kore", Description: "Firm, mid-range female voice"},
	{ID: "Puck", Label: "Puck", Description: "Upbeat male voice"},
	{ID: "Charon", Label: "Charon", Description: "Informative, low male voice"},
	{ID: "Fenrir", Label: "Fenrir", Description: "Excitable, younger male voice"},
	{ID: "Aoede", Label: "Aoede", Description: "Breezy female voice"},
	{ID: "Leda", Label: "Leda", Description: "Youthful female voice"},
	{ID: "Orus", Label: "Orus", Description: "Firm male voice"},
	{ID: "Zephyr", Label: "Zephyr", Description: "Bright female voice"},
}

// Default is used when a request names no voice.
const Default = "Kore"

// All returns the catalog in a stable order.
func All() []Voice {
	out := make([]Voice, len(catalog))
	copy(out, catalog)
	return out
}

// Label returns the display label for id, falling back to the id itself for
// voices outside the catalog.
func Label(id string) string {
	for _, v := range catalog {
		if v.ID == id {
			return v.Label
		}
	}
	return id
}
