// Package export packages a trained head together with its backbone and
// label set, and hands the artifact to one or more destinations.
package export

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/teslashibe/go-teachable/pkg/classifier"
	"github.com/teslashibe/go-teachable/pkg/labels"
)

// Artifact entry names inside the zip.
const (
	ManifestFile = "manifest.yaml"
	HeadFile     = "head.json"
	BackboneFile = "backbone.onnx"

	FormatVersion = "teachable/v1"
)

// Backbone describes the feature extractor the head was trained on.
type Backbone struct {
	Path         string `yaml:"-"`
	Source       string `yaml:"source"`
	InputWidth   int    `yaml:"input_width"`
	InputHeight  int    `yaml:"input_height"`
	EmbeddingDim int    `yaml:"embedding_dim"`
	OutputLayer  string `yaml:"output_layer,omitempty"`
	File         string `yaml:"file,omitempty"`
}

// HeadInfo summarizes the head architecture in the manifest.
type HeadInfo struct {
	InputDim    int    `yaml:"input_dim"`
	HiddenUnits int    `yaml:"hidden_units"`
	NumClasses  int    `yaml:"num_classes"`
	Hidden      string `yaml:"hidden_activation"`
	Output      string `yaml:"output_activation"`
	Loss        string `yaml:"loss"`
	File        string `yaml:"file"`
}

// Manifest is the manifest.yaml document.
type Manifest struct {
	Format    string         `yaml:"format"`
	RunID     string         `yaml:"run_id"`
	CreatedAt time.Time      `yaml:"created_at"`
	Labels    []labels.Label `yaml:"labels"`
	Backbone  Backbone       `yaml:"backbone"`
	Head      HeadInfo       `yaml:"head"`
}

// Bundle is everything needed to rebuild the combined model.
type Bundle struct {
	RunID     string
	CreatedAt time.Time
	Labels    []labels.Label
	Backbone  Backbone
	Head      classifier.Weights
}

// Filename returns the artifact name for the bundle. The run id prefix
// keeps runs finished within the same second apart.
func (b *Bundle) Filename() string {
	stamp := b.CreatedAt.UTC().Format("20060102-150405")
	id := b.RunID
	if len(id) > 8 {
		id = id[:8]
	}
	if id == "" {
		return fmt.Sprintf("my-model-%s.zip", stamp)
	}
	return fmt.Sprintf("my-model-%s-%s.zip", stamp, id)
}

// Manifest builds the manifest. The backbone entry is only listed when the
// backbone file can be read.
func (b *Bundle) Manifest() Manifest {
	bb := b.Backbone
	bb.File = ""
	if bb.Path != "" {
		if fi, err := os.Stat(bb.Path); err == nil && fi.Mode().IsRegular() {
			bb.File = BackboneFile
		}
	}

	return Manifest{
		Format:    FormatVersion,
		RunID:     b.RunID,
		CreatedAt: b.CreatedAt.UTC(),
		Labels:    b.Labels,
		Backbone:  bb,
		Head: HeadInfo{
			InputDim:    b.Head.InputDim,
			HiddenUnits: b.Head.HiddenUnits,
			NumClasses:  b.Head.NumClasses,
			Hidden:      "relu",
			Output:      "softmax",
			Loss:        b.Head.Loss,
			File:        HeadFile,
		},
	}
}

// WriteZip writes the artifact to w.
func (b *Bundle) WriteZip(w io.Writer) error {
	m := b.Manifest()
	zw := zip.NewWriter(w)

	manifest, err := yaml.Marshal(&m)
	if err != nil {
		return fmt.Errorf("export: encode manifest: %w", err)
	}
	if err := writeEntry(zw, ManifestFile, bytes.NewReader(manifest)); err != nil {
		return err
	}

	head, err := json.Marshal(b.Head)
	if err != nil {
		return fmt.Errorf("export: encode head: %w", err)
	}
	if err := writeEntry(zw, HeadFile, bytes.NewReader(head)); err != nil {
		return err
	}

	if m.Backbone.File != "" {
		f, err := os.Open(b.Backbone.Path)
		if err != nil {
			return fmt.Errorf("export: open backbone: %w", err)
		}
		err = writeEntry(zw, BackboneFile, f)
		f.Close()
		if err != nil {
			return err
		}
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("export: finish zip: %w", err)
	}
	return nil
}

// Bytes returns the zipped artifact.
func (b *Bundle) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	if err := b.WriteZip(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeEntry(zw *zip.Writer, name string, r io.Reader) error {
	w, err := zw.Create(name)
	if err != nil {
		return fmt.Errorf("export: create %s: %w", name, err)
	}
	if _, err := io.Copy(w, r); err != nil {
		return fmt.Errorf("export: write %s: %w", name, err)
	}
	return nil
}

// ReadBundle parses an artifact produced by WriteZip.
func ReadBundle(data []byte) (Manifest, classifier.Weights, error) {
	var (
		m Manifest
		w classifier.Weights
	)

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return m, w, fmt.Errorf("export: open zip: %w", err)
	}

	var sawManifest, sawHead bool
	for _, f := range zr.File {
		switch f.Name {
		case ManifestFile:
			if err := decodeEntry(f, func(r io.Reader) error { return yaml.NewDecoder(r).Decode(&m) }); err != nil {
				return m, w, err
			}
			sawManifest = true
		case HeadFile:
			if err := decodeEntry(f, func(r io.Reader) error { return json.NewDecoder(r).Decode(&w) }); err != nil {
				return m, w, err
			}
			sawHead = true
		}
	}
	if !sawManifest || !sawHead {
		return m, w, fmt.Errorf("export: artifact is missing %s or %s", ManifestFile, HeadFile)
	}
	return m, w, nil
}

func decodeEntry(f *zip.File, decode func(io.Reader) error) error {
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("export: open %s: %w", f.Name, err)
	}
	defer rc.Close()
	if err := decode(rc); err != nil {
		return fmt.Errorf("export: decode %s: %w", f.Name, err)
	}
	return nil
}
