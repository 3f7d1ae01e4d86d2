package passbundle

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"howett.net/plist"
)

// LoadPass reads a pass template directory: pass.json at the root, images
// next to it, and <lang>.lproj directories holding pass.strings and
// localized images. Generated files (manifest.json, signature) and hidden
// files are ignored.
func LoadPass(dir string) (*Pass, error) {
	document, err := os.ReadFile(filepath.Join(dir, PassFilename))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", PassFilename, err)
	}

	pass, err := NewPass(document)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read template directory: %w", err)
	}

	for _, entry := range entries {
		name := entry.Name()
		if shouldOmit(name) {
			continue
		}

		if entry.IsDir() {
			if !strings.HasSuffix(name, LocalizationDirSuffix) {
				continue
			}
			loc, err := loadLocalization(filepath.Join(dir, name), strings.TrimSuffix(name, LocalizationDirSuffix))
			if err != nil {
				return nil, err
			}
			pass.Locales = append(pass.Locales, loc)
			continue
		}

		switch name {
		case PassFilename, ManifestFilename, SignatureFilename:
			continue
		}
		if m, ok := mediaFromEntry(dir, entry); ok {
			pass.Images = append(pass.Images, m)
		}
	}

	return pass, nil
}

func loadLocalization(dir, language string) (Localization, error) {
	loc := Localization{Language: language, Strings: map[string]string{}}

	data, err := os.ReadFile(filepath.Join(dir, StringsFilename))
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return loc, fmt.Errorf("failed to read %s strings: %w", language, err)
	default:
		table, err := ParseStrings(data)
		if err != nil {
			return loc, fmt.Errorf("failed to parse %s strings: %w", language, err)
		}
		loc.Strings = table
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return loc, fmt.Errorf("failed to read %s: %w", dir, err)
	}
	for _, entry := range entries {
		if entry.IsDir() || entry.Name() == StringsFilename || shouldOmit(entry.Name()) {
			continue
		}
		if m, ok := mediaFromEntry(dir, entry); ok {
			loc.Media = append(loc.Media, m)
		}
	}

	return loc, nil
}

func mediaFromEntry(dir string, entry os.DirEntry) (Media, bool) {
	if !entry.Type().IsRegular() {
		return Media{}, false
	}
	m, ok := ParseMediaFilename(entry.Name())
	if !ok {
		return Media{}, false
	}
	m.SourcePath = filepath.Join(dir, entry.Name())
	return m, true
}

// ParseStrings decodes a strings file ("key" = "value"; lines).
func ParseStrings(data []byte) (map[string]string, error) {
	table := map[string]string{}
	if len(strings.TrimSpace(string(data))) == 0 {
		return table, nil
	}
	if _, err := plist.Unmarshal(data, &table); err != nil {
		return nil, err
	}
	return table, nil
}

// shouldOmit reports files that never belong in a bundle.
func shouldOmit(name string) bool {
	// .DS_Store, AppleDouble (._*) and other hidden files
	return strings.HasPrefix(name, ".")
}

// Languages returns the localization languages of p in sorted order.
func (p *Pass) Languages() []string {
	langs := make([]string, 0, len(p.Locales))
	for _, l := range p.Locales {
		langs = append(langs, l.Language)
	}
	sort.Strings(langs)
	return langs
}
