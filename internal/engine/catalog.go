package engine

import (
	"os"
	"path/filepath"
	"strings"
)

// SeparationModel describes a separator model the engine knows how to invoke.
type SeparationModel struct {
	ID       string
	Name     string
	Filename string
	Stems    int
}

// DefaultModelID is used when the configured model is unknown.
const DefaultModelID = "mdx-inst-hq3"

var separationModels = []SeparationModel{
	{ID: "mdx-inst-hq3", Name: "MDX-Net Inst HQ3", Filename: "UVR-MDX-NET-Inst_HQ_3.onnx", Stems: 2},
}

// Models lists the known separation models.
func Models() []SeparationModel {
	out := make([]SeparationModel, len(separationModels))
	copy(out, separationModels)
	return out
}

// LookupModel returns the model with id, falling back to [DefaultModelID].
func LookupModel(id string) (SeparationModel, bool) {
	for _, m := range separationModels {
		if m.ID == id {
			return m, true
		}
	}
	for _, m := range separationModels {
		if m.ID == DefaultModelID {
			return m, false
		}
	}
	return SeparationModel{}, false
}

// baseName is the model filename without its weight extension, as the separator embeds it in output names.
func (m SeparationModel) baseName() string {
	name := m.Filename
	for _, ext := range []string{".onnx", ".ckpt", ".yaml"} {
		name = strings.TrimSuffix(name, ext)
	}
	return name
}

// stemFiles are the located outputs of one separation.
type stemFiles struct {
	instrumental string
	vocals       string
}

// findStems locates non-empty instrumental and vocals files for the audio stem in dir.
//
// Exact separator naming is tried first, then any file containing the stem and a stem keyword.
func findStems(dir, stem string, model SeparationModel, ext string) (stemFiles, bool) {
	exact := func(kind string) []string {
		return []string{
			stem + "_(" + kind + ")_" + model.baseName() + "." + ext,
			stem + "_(" + kind + ")." + ext,
			stem + "_" + kind + "." + ext,
		}
	}

	var found stemFiles
	found.instrumental = firstNonEmpty(dir, exact("Instrumental"))
	found.vocals = firstNonEmpty(dir, exact("Vocals"))

	if found.instrumental == "" || found.vocals == "" {
		entries, _ := os.ReadDir(dir)
		for _, e := range entries {
			name := e.Name()
			if e.IsDir() || !strings.Contains(name, stem) {
				continue
			}
			lower := strings.ToLower(name)
			full := filepath.Join(dir, name)
			if !nonEmpty(full) {
				continue
			}
			switch {
			case found.instrumental == "" && (strings.Contains(lower, "instrument") || strings.Contains(lower, "no_vocal")):
				found.instrumental = full
			case found.vocals == "" && (strings.Contains(lower, "vocal") || strings.Contains(lower, "voice")) && !strings.Contains(lower, "no_vocal"):
				found.vocals = full
			}
		}
	}

	return found, found.instrumental != "" && found.vocals != ""
}

func firstNonEmpty(dir string, names []string) string {
	for _, n := range names {
		p := filepath.Join(dir, n)
		if nonEmpty(p) {
			return p
		}
	}
	return ""
}

func nonEmpty(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir() && info.Size() > 0
}
