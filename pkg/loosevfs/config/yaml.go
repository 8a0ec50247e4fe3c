package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/arthur-debert/loosevfs/pkg/loosevfs/vfs"
)

type fileFormat int

const (
	formatYAML fileFormat = iota
	formatXML
)

func format(path string, data []byte) fileFormat {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xml":
		return formatXML
	case ".yaml", ".yml":
		return formatYAML
	}
	if bytes.HasPrefix(bytes.TrimSpace(data), []byte("<")) {
		return formatXML
	}
	return formatYAML
}

// yamlRule names its kind by which of dir, file or archive is set.
type yamlRule struct {
	Dir      string     `yaml:"dir"`
	File     string     `yaml:"file"`
	Archive  string     `yaml:"archive"`
	Disk     string     `yaml:"disk"`
	Excludes string     `yaml:"excludes"`
	Ref      string     `yaml:"ref"`
	Rules    []yamlRule `yaml:"rules"`
}

type yamlArchive struct {
	Rules []yamlRule `yaml:"rules"`
}

type yamlDocument struct {
	CacheDir string                 `yaml:"cacheDir"`
	Archives map[string]yamlArchive `yaml:"archives"`
	Rules    []yamlRule             `yaml:"rules"`
}

func parseYAML(data []byte) (*Document, error) {
	var raw yamlDocument
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&raw); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("empty document")
		}
		return nil, err
	}

	doc := &Document{
		CacheDir: raw.CacheDir,
		Archives: make(map[string][]Rule, len(raw.Archives)),
	}
	var err error
	if doc.Rules, err = convertYAML("", raw.Rules); err != nil {
		return nil, err
	}
	for name, def := range raw.Archives {
		if doc.Archives[name], err = convertYAML(name, def.Rules); err != nil {
			return nil, err
		}
		doc.Names = append(doc.Names, name)
	}
	sortNames(doc.Names)
	return doc, nil
}

func convertYAML(archive string, in []yamlRule) ([]Rule, error) {
	out := make([]Rule, 0, len(in))
	for i, y := range in {
		var kinds []string
		r := Rule{Disk: y.Disk, Excludes: y.Excludes, Ref: y.Ref}
		if y.Dir != "" {
			kinds = append(kinds, "dir")
			r.Kind, r.Location = vfs.KindDirectory, y.Dir
		}
		if y.File != "" {
			kinds = append(kinds, "file")
			r.Kind, r.Location = vfs.KindFile, y.File
		}
		if y.Archive != "" {
			kinds = append(kinds, "archive")
			r.Kind, r.Location = vfs.KindArchive, y.Archive
		}
		if len(kinds) != 1 {
			return nil, &Error{
				Archive: archive,
				Reason:  fmt.Sprintf("rule %d", i),
				Cause:   fmt.Errorf("%w: need exactly one of dir, file or archive, got %d", ErrFormat, len(kinds)),
			}
		}

		if len(y.Rules) > 0 {
			children, err := convertYAML(archive, y.Rules)
			if err != nil {
				return nil, err
			}
			r.Rules = children
		}
		if err := validate(archive, i, r); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}
