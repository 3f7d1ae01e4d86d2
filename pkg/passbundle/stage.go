package passbundle

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

const (
	dirMode  = 0o755
	fileMode = 0o644
)

// ValidateSerialNumber checks that serial is non-empty and usable as a
// single directory name.
func ValidateSerialNumber(serial string) error {
	if serial == "" {
		return newError(KindValidation, "validate", "", ErrEmptySerialNumber)
	}
	if serial == "." || serial == ".." || strings.ContainsAny(serial, `/\`) {
		return newError(KindValidation, "validate", "", fmt.Errorf("%w: %q", ErrInvalidSerialNumber, serial))
	}
	return nil
}

// StageBundle writes the bundle layout for pass into dir: pass.json, the
// top-level images, and one <lang>.lproj directory per localization holding
// pass.strings and the localized images.
//
// All input checks run before the first filesystem call. If dir exists and
// overwrite is false, StageBundle fails with KindDirectoryConflict and leaves
// dir untouched; with overwrite the directory is emptied and reused.
func StageBundle(pass PassContent, dir string, overwrite bool) error {
	if err := validatePass(pass); err != nil {
		return err
	}
	if err := prepareStagingDir(dir, overwrite); err != nil {
		return err
	}
	return writeBundleContents(pass, dir)
}

func validatePass(pass PassContent) error {
	if pass == nil {
		return newError(KindValidation, "validate", "", errors.New("pass is nil"))
	}
	if err := ValidateSerialNumber(pass.SerialNumber()); err != nil {
		return err
	}

	if err := validateMedia(pass.Media(), ".", PassFilename); err != nil {
		return err
	}

	langs := make(map[string]bool)
	for _, loc := range pass.Localizations() {
		if loc.Language == "" || strings.ContainsAny(loc.Language, `/\`) || loc.Language == "." || loc.Language == ".." {
			return newError(KindValidation, "validate", "", fmt.Errorf("invalid localization language %q", loc.Language))
		}
		if langs[loc.Language] {
			return newError(KindValidation, "validate", loc.DirName(), ErrDuplicateFile)
		}
		langs[loc.Language] = true

		if err := validateMedia(loc.Media, loc.DirName(), StringsFilename); err != nil {
			return err
		}
	}
	return nil
}

// validateMedia rejects unnamed items and items that would overwrite each
// other, or a reserved file, inside one directory.
func validateMedia(media []Media, dir string, reserved ...string) error {
	seen := make(map[string]bool, len(media)+len(reserved))
	for _, name := range reserved {
		seen[name] = true
	}
	if dir == "." {
		seen[ManifestFilename] = true
		seen[SignatureFilename] = true
	}

	for _, m := range media {
		if m.Context == "" || strings.TrimPrefix(m.Extension, ".") == "" {
			return newError(KindValidation, "validate", dir, fmt.Errorf("media %q needs a context and an extension", m.SourcePath))
		}
		name := m.Filename()
		if strings.ContainsAny(name, `/\`) {
			return newError(KindValidation, "validate", dir, fmt.Errorf("invalid media file name %q", name))
		}
		if seen[name] {
			return newError(KindValidation, "validate", filepath.Join(dir, name), ErrDuplicateFile)
		}
		seen[name] = true
	}
	return nil
}

// prepareStagingDir creates dir, or empties it when it exists and overwrite is set.
func prepareStagingDir(dir string, overwrite bool) error {
	if _, err := os.Lstat(dir); err == nil {
		if !overwrite {
			return newError(KindDirectoryConflict, "stage", dir, ErrStagingDirExists)
		}
		if err := os.RemoveAll(dir); err != nil {
			return newError(KindIO, "stage", dir, fmt.Errorf("failed to clear existing directory: %w", err))
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return newError(KindIO, "stage", dir, err)
	}

	if err := os.MkdirAll(dir, dirMode); err != nil {
		return newError(KindIO, "stage", dir, fmt.Errorf("failed to create directory: %w", err))
	}
	return nil
}

func writeBundleContents(pass PassContent, dir string) error {
	payload, err := pass.Serialize()
	if err != nil {
		return newError(KindValidation, "serialize", PassFilename, err)
	}

	passPath := filepath.Join(dir, PassFilename)
	if err := os.WriteFile(passPath, payload, fileMode); err != nil {
		return newError(KindIO, "stage", passPath, err)
	}

	if err := copyMedia(pass.Media(), dir); err != nil {
		return err
	}

	for _, loc := range pass.Localizations() {
		locDir := filepath.Join(dir, loc.DirName())
		if err := os.Mkdir(locDir, dirMode); err != nil {
			return newError(KindIO, "stage", locDir, err)
		}

		stringsPath := filepath.Join(locDir, StringsFilename)
		if err := os.WriteFile(stringsPath, RenderStrings(loc.Strings), fileMode); err != nil {
			return newError(KindIO, "stage", stringsPath, err)
		}

		if err := copyMedia(loc.Media, locDir); err != nil {
			return err
		}
	}

	return nil
}

func copyMedia(media []Media, dir string) error {
	for _, m := range media {
		dst := filepath.Join(dir, m.Filename())
		if err := copyFile(m.SourcePath, dst); err != nil {
			return newError(KindIO, "stage", dst, fmt.Errorf("failed to copy %s: %w", m.SourcePath, err))
		}
	}
	return nil
}

// copyFile copies a single file from src to dst using streaming I/O
func copyFile(src, dst string) error {
	srcFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer srcFile.Close()

	dstFile, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, fileMode)
	if err != nil {
		return err
	}

	if _, err := io.Copy(dstFile, srcFile); err != nil {
		dstFile.Close()
		return err
	}
	return dstFile.Close()
}
