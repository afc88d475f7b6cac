// Package boards implements the board catalog used to enrich project
// environments with manufacturer build and upload parameters.
//
// A catalog maps the PlatformIO `board` token found in platformio.ini
// (e.g. "uno", "bt328") to the mcu id and default upload speed that the
// flashing utility needs.
package boards

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrUnknownBoard indicates the catalog has no entry for the requested token.
var ErrUnknownBoard = errors.New("unknown board")

// Board describes one catalog entry.
type Board struct {
	ID     string `json:"id" yaml:"-"`
	Name   string `json:"name" yaml:"name"`
	Build  Build  `json:"build" yaml:"build"`
	Upload Upload `json:"upload" yaml:"upload"`
}

// Build holds the build section of a board definition.
type Build struct {
	MCU  string `json:"mcu" yaml:"mcu"`
	FCPU string `json:"f_cpu,omitempty" yaml:"f_cpu"`
	Core string `json:"core,omitempty" yaml:"core"`
}

// Upload holds the upload section of a board definition.
type Upload struct {
	Speed       int    `json:"speed" yaml:"speed"`
	Protocol    string `json:"protocol,omitempty" yaml:"protocol"`
	MaximumSize int    `json:"maximum_size,omitempty" yaml:"maximum_size"`
}

// Validate checks the fields required to probe and flash a board.
func (b *Board) Validate() error {
	if strings.TrimSpace(b.Build.MCU) == "" {
		return fmt.Errorf("board %q: build.mcu is required", b.ID)
	}
	if b.Upload.Speed <= 0 {
		return fmt.Errorf("board %q: upload.speed must be > 0", b.ID)
	}
	return nil
}

// Catalog resolves board tokens to board definitions.
type Catalog interface {
	// Lookup returns the board for token.
	// Returns an error matching ErrUnknownBoard when the token is not known.
	Lookup(token string) (*Board, error)
}

// MapCatalog is an in-memory catalog.
type MapCatalog map[string]Board

type yamlCatalog struct {
	Boards map[string]Board `yaml:"boards"`
}

// LoadYAML parses a YAML catalog document of the form:
//
//	boards:
//	  uno:
//	    build: {mcu: atmega328p}
//	    upload: {speed: 115200}
func LoadYAML(data []byte) (MapCatalog, error) {
	var doc yamlCatalog
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse board catalog: %w", err)
	}
	out := make(MapCatalog, len(doc.Boards))
	for id, b := range doc.Boards {
		b.ID = id
		if err := b.Validate(); err != nil {
			return nil, err
		}
		out[id] = b
	}
	return out, nil
}

// Lookup implements Catalog.
func (c MapCatalog) Lookup(token string) (*Board, error) {
	token = strings.TrimSpace(token)
	b, ok := c[token]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownBoard, token)
	}
	b.ID = token
	return &b, nil
}

// IDs returns the catalog tokens in sorted order.
func (c MapCatalog) IDs() []string {
	ids := make([]string, 0, len(c))
	for id := range c {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// DirCatalog reads PlatformIO-style board definitions (<dir>/<token>.json)
// from disk on every lookup, so edits are picked up without a restart.
type DirCatalog struct {
	dir string
}

// NewDirCatalog returns a catalog backed by dir.
func NewDirCatalog(dir string) *DirCatalog {
	return &DirCatalog{dir: strings.TrimSpace(dir)}
}

// Lookup implements Catalog.
func (c *DirCatalog) Lookup(token string) (*Board, error) {
	token = strings.TrimSpace(token)
	if token == "" || strings.ContainsAny(token, `/\`) || token == "." || token == ".." {
		return nil, fmt.Errorf("%w: %q", ErrUnknownBoard, token)
	}
	b, err := os.ReadFile(filepath.Join(c.dir, token+".json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %q", ErrUnknownBoard, token)
		}
		return nil, fmt.Errorf("read board definition: %w", err)
	}
	if err := ValidateDefinition(token, b); err != nil {
		return nil, err
	}

	var board Board
	if err := json.Unmarshal(b, &board); err != nil {
		return nil, fmt.Errorf("parse board definition %s: %w", token, err)
	}
	board.ID = token
	if err := board.Validate(); err != nil {
		return nil, err
	}
	return &board, nil
}

// Chain returns a catalog that tries each catalog in order and returns the
// first hit. Errors other than ErrUnknownBoard stop the chain.
func Chain(catalogs ...Catalog) Catalog {
	return chain(catalogs)
}

type chain []Catalog

func (c chain) Lookup(token string) (*Board, error) {
	for _, cat := range c {
		if cat == nil {
			continue
		}
		b, err := cat.Lookup(token)
		if err == nil {
			return b, nil
		}
		if !errors.Is(err, ErrUnknownBoard) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownBoard, token)
}
