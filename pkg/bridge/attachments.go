package bridge

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ajitpratap0/elabmate/pkg/errors"
)

// DataExtension is assumed for acquisition paths given without extension.
const DataExtension = ".h5"

// Attachments lists the files a snapshot of the acquisition at path
// uploads: the data file first, then its figures sorted by name.
//
// The data file is path itself when it has an extension, otherwise
// path + ".h5". When that file is missing the newest file named
// <stem>*<ext> in the same folder stands in for it. Figures are the files
// named <stem>_FIG* or <name>_FIG* next to the data file. An empty path or
// a missing data file yields no attachments.
func Attachments(path string) ([]string, error) {
	if path == "" {
		return nil, nil
	}

	data, err := resolveDataFile(path)
	if err != nil || data == "" {
		return nil, err
	}

	dir := filepath.Dir(data)
	name := filepath.Base(data)
	prefixes := []string{strings.TrimSuffix(name, filepath.Ext(name))}
	if name != prefixes[0] {
		prefixes = append(prefixes, name)
	}

	entries, err := readDir(dir)
	if err != nil {
		return nil, err
	}
	var figures []string
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		for _, prefix := range prefixes {
			if prefix != "" && isFigure(entry.Name(), prefix) {
				figures = append(figures, entry.Name())
				break
			}
		}
	}
	sort.Strings(figures)

	out := make([]string, 0, len(figures)+1)
	out = append(out, data)
	for _, fig := range figures {
		out = append(out, filepath.Join(dir, fig))
	}
	return out, nil
}

func resolveDataFile(path string) (string, error) {
	ext := filepath.Ext(path)
	candidate := path
	if ext == "" {
		ext = DataExtension
		candidate = path + DataExtension
	}
	if fileExists(candidate) {
		return candidate, nil
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	stem := strings.TrimSuffix(base, filepath.Ext(base))

	entries, err := readDir(dir)
	if err != nil {
		return "", err
	}
	var (
		newest  string
		modTime int64
	)
	for _, entry := range entries {
		name := entry.Name()
		if !entry.Type().IsRegular() || !strings.HasPrefix(name, stem) || !strings.HasSuffix(name, ext) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if mt := info.ModTime().UnixNano(); newest == "" || mt > modTime {
			newest, modTime = name, mt
		}
	}
	if newest == "" {
		return "", nil
	}
	return filepath.Join(dir, newest), nil
}

// readDir treats a missing folder as empty.
func readDir(dir string) ([]os.DirEntry, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to list acquisition folder").
			WithDetail("dir", dir)
	}
	return entries, nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
