package mapping

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/goliatone/go-courier-sync/core"
	"gopkg.in/yaml.v3"
)

type yamlEntry struct {
	Code      string `yaml:"code"`
	Status    string `yaml:"status"`
	Reason    string `yaml:"reason,omitempty"`
	Permanent bool   `yaml:"permanent,omitempty"`
}

type yamlTable struct {
	Courier string      `yaml:"courier"`
	Version int         `yaml:"version"`
	Codes   []yamlEntry `yaml:"codes"`
}

// ParseYAML decodes one courier mapping document.
func ParseYAML(data []byte) (core.MappingTable, error) {
	var doc yamlTable
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return core.MappingTable{}, fmt.Errorf("mapping: decode yaml: %w", err)
	}
	table := core.MappingTable{
		CourierID: strings.TrimSpace(doc.Courier),
		Version:   doc.Version,
		Entries:   make([]core.MappingEntry, 0, len(doc.Codes)),
	}
	for _, code := range doc.Codes {
		status, err := core.ParseCanonicalStatus(code.Status)
		if err != nil {
			return core.MappingTable{}, fmt.Errorf("mapping: %s code %q: %w", table.CourierID, code.Code, err)
		}
		entry := core.MappingEntry{
			Code:      code.Code,
			Status:    status,
			Permanent: code.Permanent,
		}
		if strings.TrimSpace(code.Reason) != "" {
			entry.Reason = core.ParseNDRReason(code.Reason)
		}
		table.Entries = append(table.Entries, entry)
	}
	if _, err := compile(table); err != nil {
		return core.MappingTable{}, err
	}
	return table, nil
}

// MarshalYAML renders table in the document format ParseYAML reads.
func MarshalYAML(table core.MappingTable) ([]byte, error) {
	doc := yamlTable{Courier: table.CourierID, Version: table.Version}
	for _, entry := range table.Entries {
		doc.Codes = append(doc.Codes, yamlEntry{
			Code:      entry.Code,
			Status:    string(entry.Status),
			Reason:    string(entry.Reason),
			Permanent: entry.Permanent,
		})
	}
	return yaml.Marshal(doc)
}

// FileSource loads tables from YAML files; directories contribute every
// *.yaml / *.yml file they contain.
type FileSource struct {
	Paths []string
}

func (s FileSource) LoadTables(context.Context) ([]core.MappingTable, error) {
	files, err := s.files()
	if err != nil {
		return nil, err
	}
	tables := make([]core.MappingTable, 0, len(files))
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("mapping: read %s: %w", file, err)
		}
		table, err := ParseYAML(data)
		if err != nil {
			return nil, fmt.Errorf("mapping: %s: %w", file, err)
		}
		tables = append(tables, table)
	}
	return tables, nil
}

func (s FileSource) files() ([]string, error) {
	out := make([]string, 0)
	for _, path := range s.Paths {
		path = strings.TrimSpace(path)
		if path == "" {
			continue
		}
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("mapping: stat %s: %w", path, err)
		}
		if !info.IsDir() {
			out = append(out, path)
			continue
		}
		entries, err := os.ReadDir(path)
		if err != nil {
			return nil, fmt.Errorf("mapping: read dir %s: %w", path, err)
		}
		for _, entry := range entries {
			ext := strings.ToLower(filepath.Ext(entry.Name()))
			if entry.IsDir() || (ext != ".yaml" && ext != ".yml") {
				continue
			}
			out = append(out, filepath.Join(path, entry.Name()))
		}
	}
	sort.Strings(out)
	return out, nil
}

// FSSource loads every table matching Pattern from an fs.FS, such as the
// embedded tables shipped with the module.
type FSSource struct {
	FS      fs.FS
	Pattern string
}

func (s FSSource) LoadTables(context.Context) ([]core.MappingTable, error) {
	if s.FS == nil {
		return nil, nil
	}
	pattern := strings.TrimSpace(s.Pattern)
	if pattern == "" {
		pattern = "*.yaml"
	}
	files, err := fs.Glob(s.FS, pattern)
	if err != nil {
		return nil, fmt.Errorf("mapping: glob %s: %w", pattern, err)
	}
	sort.Strings(files)
	tables := make([]core.MappingTable, 0, len(files))
	for _, file := range files {
		data, err := fs.ReadFile(s.FS, file)
		if err != nil {
			return nil, fmt.Errorf("mapping: read %s: %w", file, err)
		}
		table, err := ParseYAML(data)
		if err != nil {
			return nil, fmt.Errorf("mapping: %s: %w", file, err)
		}
		tables = append(tables, table)
	}
	return tables, nil
}

var (
	_ core.MappingSource = FileSource{}
	_ core.MappingSource = FSSource{}
)
