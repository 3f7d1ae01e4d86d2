package passbundle

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
)

// Names of the fixed files and suffixes inside a pass bundle.
const (
	PassFilename          = "pass.json"
	ManifestFilename      = "manifest.json"
	SignatureFilename     = "signature"
	StringsFilename       = "pass.strings"
	LocalizationDirSuffix = ".lproj"

	// DefaultBundleExtension is the extension of the produced archive.
	DefaultBundleExtension = "pkpass"

	highDensitySuffix = "@2x"
)

// PassContent is the pass object being packaged. The pass model and its JSON
// serialization live outside this package; Pass is a ready-made implementation.
type PassContent interface {
	SerialNumber() string
	Serialize() ([]byte, error)
	Media() []Media
	Localizations() []Localization
}

// Media is an image copied into the bundle.
type Media struct {
	// SourcePath is the file read while staging.
	SourcePath string
	// Context is the output filename stem, e.g. "icon", "logo", "strip".
	Context string
	// HighDensity appends "@2x" to the stem.
	HighDensity bool
	// Extension without the leading dot.
	Extension string
}

// Filename returns the name the media file gets inside the bundle.
func (m Media) Filename() string {
	name := m.Context
	if m.HighDensity {
		name += highDensitySuffix
	}
	return name + "." + strings.TrimPrefix(m.Extension, ".")
}

// ParseMediaFilename splits a bundle image name such as "logo@2x.png" into a Media.
func ParseMediaFilename(name string) (Media, bool) {
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	if stem == "" || len(ext) < 2 {
		return Media{}, false
	}

	m := Media{Context: stem, Extension: ext[1:]}
	if strings.HasSuffix(stem, highDensitySuffix) && len(stem) > len(highDensitySuffix) {
		m.Context = strings.TrimSuffix(stem, highDensitySuffix)
		m.HighDensity = true
	}
	return m, true
}

// Localization is one language directory of the bundle.
type Localization struct {
	// Language is the directory stem, e.g. "en" or "pt-BR".
	Language string
	// Strings is rendered into pass.strings.
	Strings map[string]string
	// Media are images specific to this language.
	Media []Media
}

// DirName returns the bundle directory name for the localization.
func (l Localization) DirName() string {
	return l.Language + LocalizationDirSuffix
}

var stringsEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`, "\r", `\r`, "\t", `\t`)

// RenderStrings renders a string table as a strings file, one
// `"key" = "value";` line per entry, sorted by key.
func RenderStrings(table map[string]string) []byte {
	keys := make([]string, 0, len(table))
	for k := range table {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	for _, k := range keys {
		fmt.Fprintf(&buf, "\"%s\" = \"%s\";\n", stringsEscaper.Replace(k), stringsEscaper.Replace(table[k]))
	}
	return buf.Bytes()
}

// Pass is a PassContent backed by a decoded pass.json document.
type Pass struct {
	// Document is the pass.json object; its "serialNumber" key identifies the pass.
	Document map[string]any
	Images   []Media
	Locales  []Localization
}

// NewPass decodes a pass.json document. Numbers are kept as json.Number so
// they serialize back exactly as written.
func NewPass(document []byte) (*Pass, error) {
	var doc map[string]any
	dec := json.NewDecoder(bytes.NewReader(document))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode pass document: %w", err)
	}
	if dec.More() {
		return nil, fmt.Errorf("failed to decode pass document: trailing data")
	}
	return &Pass{Document: doc}, nil
}

func (p *Pass) SerialNumber() string {
	s, _ := p.Document["serialNumber"].(string)
	return s
}

// Serialize encodes the document with sorted keys and without HTML escaping.
func (p *Pass) Serialize() ([]byte, error) {
	return marshalJSON(p.Document)
}

func (p *Pass) Media() []Media { return p.Images }

func (p *Pass) Localizations() []Localization { return p.Locales }

// marshalJSON encodes v compactly, leaving '<', '>' and '&' unescaped.
func marshalJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}
