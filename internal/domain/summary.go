package domain

// Output is one emitted unit: a whole image or a single tile.
type Output struct {
	Name   string `json:"name"`
	Path   string `json:"path"`
	Bytes  int    `json:"bytes"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// FileResult records what happened to a single input file.
type FileResult struct {
	Name    string   `json:"name"`
	Outputs []Output `json:"outputs,omitempty"`
	Error   string   `json:"error,omitempty"`
}

func (r FileResult) OK() bool {
	return r.Error == ""
}

// Summary collects the per-file results of a run.
type Summary struct {
	Files     []FileResult `json:"files"`
	Produced  int          `json:"produced"`
	Failed    int          `json:"failed"`
	Exhausted bool         `json:"exhausted"`
}

func (s *Summary) Add(r FileResult) {
	s.Files = append(s.Files, r)
	s.Produced += len(r.Outputs)
	if !r.OK() {
		s.Failed++
	}
}

// Outputs flattens the emitted units of every file in emission order.
func (s Summary) Outputs() []Output {
	var out []Output
	for _, f := range s.Files {
		out = append(out, f.Outputs...)
	}
	return out
}
