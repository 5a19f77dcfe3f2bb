// Package results collects per-image observations and writes them in the
// JSON layout used by plant phenotyping result files.
package results

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// DefaultSample is the sample label used when an observation names none
const DefaultSample = "default"

// Observation is one measured variable
type Observation struct {
	Sample   string      `json:"-"`
	Variable string      `json:"-"`
	Trait    string      `json:"trait"`
	Method   string      `json:"method"`
	Scale    string      `json:"scale"`
	Datatype string      `json:"datatype"`
	Value    interface{} `json:"value"`
	Label    interface{} `json:"label"`
}

// Metadata describes the run that produced a set of observations
type Metadata struct {
	RunID     string            `json:"run_id"`
	Software  string            `json:"software"`
	Version   string            `json:"version"`
	Timestamp time.Time         `json:"timestamp"`
	Images    map[string]string `json:"images,omitempty"`
}

// Document is the on-disk form: sample -> variable -> observation
type Document struct {
	Metadata     Metadata                          `json:"metadata"`
	Observations map[string]map[string]Observation `json:"observations"`
}

// Recorder accumulates observations. Safe for concurrent use.
type Recorder struct {
	mu           sync.Mutex
	metadata     Metadata
	observations map[string]map[string]Observation
}

func NewRecorder(meta Metadata) *Recorder {
	return &Recorder{
		metadata:     meta,
		observations: make(map[string]map[string]Observation),
	}
}

// Add stores o, replacing any earlier value for the same sample and variable
func (r *Recorder) Add(o Observation) error {
	if o.Variable == "" {
		return errors.New("observation has no variable name")
	}
	if o.Sample == "" {
		o.Sample = DefaultSample
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	vars, ok := r.observations[o.Sample]
	if !ok {
		vars = make(map[string]Observation)
		r.observations[o.Sample] = vars
	}
	vars[o.Variable] = o
	return nil
}

func (r *Recorder) Get(sample, variable string) (Observation, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.observations[sample][variable]
	return o, ok
}

// Observations returns every observation ordered by sample then variable
func (r *Recorder) Observations() []Observation {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Observation
	for sample, vars := range r.observations {
		for variable, o := range vars {
			o.Sample, o.Variable = sample, variable
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Sample != out[j].Sample {
			return out[i].Sample < out[j].Sample
		}
		return out[i].Variable < out[j].Variable
	})
	return out
}

func (r *Recorder) Metadata() Metadata {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.metadata
}

func (r *Recorder) Document() Document {
	doc := Document{
		Metadata:     r.Metadata(),
		Observations: make(map[string]map[string]Observation),
	}
	for _, o := range r.Observations() {
		if doc.Observations[o.Sample] == nil {
			doc.Observations[o.Sample] = make(map[string]Observation)
		}
		doc.Observations[o.Sample][o.Variable] = o
	}
	return doc
}

// WriteJSON writes the recorded observations to path. Observations already
// in an existing file are kept unless this recorder has a value for the
// same sample and variable. Metadata is replaced.
func (r *Recorder) WriteJSON(path string) error {
	doc := r.Document()

	existing, err := ReadJSON(path)
	switch {
	case err == nil:
		for sample, vars := range existing.Observations {
			if doc.Observations[sample] == nil {
				doc.Observations[sample] = make(map[string]Observation)
			}
			for variable, o := range vars {
				if _, ok := doc.Observations[sample][variable]; !ok {
					doc.Observations[sample][variable] = o
				}
			}
		}
	case errors.Is(err, fs.ErrNotExist):
	default:
		return fmt.Errorf("failed to merge existing results: %w", err)
	}

	data, err := json.MarshalIndent(doc, "", "    ")
	if err != nil {
		return fmt.Errorf("failed to encode results: %w", err)
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create results directory: %w", err)
		}
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("failed to write results: %w", err)
	}
	return os.Rename(tmp, path)
}

func ReadJSON(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	if doc.Observations == nil {
		doc.Observations = make(map[string]map[string]Observation)
	}
	for sample, vars := range doc.Observations {
		for variable, o := range vars {
			o.Sample, o.Variable = sample, variable
			vars[variable] = o
		}
	}
	return &doc, nil
}
