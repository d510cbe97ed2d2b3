package filtergraph

import "strings"

// Model is an RNN noise suppression model shipped as a .rnnn file.
type Model struct {
	Name        string `json:"name"`
	File        string `json:"file"`
	Description string `json:"description"`
}

// DefaultModel is used when a noise suppression section names no model.
const DefaultModel = "general"

var models = []Model{
	{Name: "broadband", File: "bd.rnnn", Description: "Voice with broadband background noise"},
	{Name: "general", File: "cb.rnnn", Description: "General purpose voice recordings"},
	{Name: "musicAmbient", File: "mp.rnnn", Description: "Voice over music or ambient sound"},
	{Name: "extreme", File: "sh.rnnn", Description: "Heavily degraded recordings"},
}

// Models returns the model registry in display order.
func Models() []Model {
	out := make([]Model, len(models))
	copy(out, models)
	return out
}

// LookupModel finds a model by registry name (case-insensitive) or by file
// name. The empty string resolves to DefaultModel.
func LookupModel(name string) (Model, bool) {
	if name == "" {
		name = DefaultModel
	}
	for _, m := range models {
		if strings.EqualFold(m.Name, name) || m.File == name {
			return m, true
		}
	}
	return Model{}, false
}
