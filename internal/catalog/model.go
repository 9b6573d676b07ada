// Package catalog holds the equipment listings, parts, categories and site
// copy edited from the admin console.
package catalog

// SchemaVersion is the version written by this package.
const SchemaVersion = 1

// Spec is one labelled specification row.
type Spec struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// Equipment is a machine listing.
type Equipment struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Make        string   `json:"make"`
	Model       string   `json:"model"`
	Year        int      `json:"year"`
	Meter       string   `json:"meter"`
	Price       string   `json:"price"`
	City        string   `json:"city"`
	State       string   `json:"state"`
	Category    string   `json:"category"`
	Image       string   `json:"img"`
	Description string   `json:"description"`
	Specs       []Spec   `json:"specs"`
	Features    []string `json:"features"`
}

// Category is an equipment category tile.
type Category struct {
	Name  string `json:"name"`
	Image string `json:"img"`
}

// Part is a parts catalog entry keyed by PartNumber.
type Part struct {
	PartNumber  string            `json:"part_number"`
	Description string            `json:"description"`
	Category    string            `json:"category"`
	Image       string            `json:"image"`
	DetailPage  string            `json:"detail_page"`
	Attributes  map[string]string `json:"attributes,omitempty"`
}

// Copy is the editable marketing text.
type Copy struct {
	HomeHeroTitle    string `json:"homeHeroTitle"`
	HomeHeroSubtitle string `json:"homeHeroSubtitle"`
	AboutMission     string `json:"aboutMission"`
	AboutHistory     string `json:"aboutHistory"`
}

// Document is the persisted form of the whole catalog.
type Document struct {
	SchemaVersion int         `json:"schema_version"`
	Equipment     []Equipment `json:"equipment"`
	Categories    []Category  `json:"categories"`
	Parts         []Part      `json:"parts"`
	Copy          Copy        `json:"copy"`
}

func (d Document) clone() Document {
	out := Document{
		SchemaVersion: d.SchemaVersion,
		Equipment:     append([]Equipment(nil), d.Equipment...),
		Categories:    append([]Category(nil), d.Categories...),
		Parts:         append([]Part(nil), d.Parts...),
		Copy:          d.Copy,
	}
	return out
}

// Seed returns the catalog used when nothing has been saved yet.
func Seed() Document {
	return Document{
		SchemaVersion: SchemaVersion,
		Equipment: []Equipment{
			{ID: "784453", Title: "CAT D312", Make: "CAT", Model: "D312", Year: 2021, Meter: "4501", Price: "CALL", City: "Grand Rapids", State: "MI", Category: "BULLDOZERS", Description: "Standard bulldozer.", Specs: []Spec{}, Features: []string{}},
			{ID: "20152383", Title: "CAT D9", Make: "CAT", Model: "D9", Year: 2024, Meter: "1240", Price: "$1,427,055", City: "Fort Worth", State: "TX", Category: "BULLDOZERS", Description: "Elite mining class.", Specs: []Spec{}, Features: []string{}},
			{ID: "114811", Title: "CAT 336 12", Make: "CAT", Model: "336 12", Year: 2023, Meter: "2511", Price: "$356,055", City: "Cleburne", State: "TX", Category: "EXCAVATORS", Description: "Heavy production unit.", Specs: []Spec{}, Features: []string{}},
		},
		Categories: []Category{
			{Name: "ARTICULATED TRUCKS"},
			{Name: "BACKHOES"},
			{Name: "BULLDOZERS"},
			{Name: "EXCAVATORS"},
			{Name: "MOTOR GRADERS"},
			{Name: "WHEEL LOADERS"},
		},
		Parts: []Part{
			{PartNumber: "8N0990", Description: "Exhaust Manifold Gasket", Category: "ENGINE"},
			{PartNumber: "8H6877", Description: "Hydraulic Seal Kit", Category: "HYDRAULICS"},
			{PartNumber: "7W3659", Description: "Fuel Injection Nozzle", Category: "FUEL SYSTEM"},
		},
		Copy: Copy{
			HomeHeroTitle:    "COMMAND YOUR HORIZON.",
			HomeHeroSubtitle: "Architecting the world's most resilient industrial supply chains.",
			AboutMission:     "To architect the most reliable heavy equipment supply chain in the Western Hemisphere.",
			AboutHistory:     "Transforming surplus industrial capital into operational leverage for contractors worldwide.",
		},
	}
}
