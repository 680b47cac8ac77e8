// Package corpus handles corpus configuration files and source file
// compatibility checks.
package corpus

import (
	"fmt"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// importers maps a source file extension to the Sparv importer module that
// can read it.
var importers = map[string]string{
	".xml":  "xml_import",
	".txt":  "text_import",
	".docx": "docx_import",
	".odt":  "odt_import",
	".pdf":  "pdf_import",
}

// ImporterFor returns the importer module for a source file name.
func ImporterFor(filename string) (string, bool) {
	imp, ok := importers[strings.ToLower(filepath.Ext(filename))]
	return imp, ok
}

// ValidSourceExt reports whether a file extension has a known importer.
func ValidSourceExt(filename string) bool {
	_, ok := ImporterFor(filename)
	return ok
}

// CheckCompatibleSources verifies that all source files share one extension
// and that the extension has a known importer. An empty list is fine.
func CheckCompatibleSources(files []string) error {
	var ext string
	for _, f := range files {
		e := strings.ToLower(filepath.Ext(f))
		if _, ok := importers[e]; !ok {
			return fmt.Errorf("file type %q of %q is not supported", e, filepath.Base(f))
		}
		if ext == "" {
			ext = e
			continue
		}
		if e != ext {
			return fmt.Errorf("source files must share one file type, found both %q and %q", ext, e)
		}
	}
	return nil
}

// Config is the part of a corpus configuration the backend inspects. The
// rest of the document is carried along untouched.
type Config struct {
	doc map[string]any
}

// ParseConfig parses a corpus configuration document.
func ParseConfig(data []byte) (*Config, error) {
	doc := map[string]any{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse corpus config: %w", err)
	}
	return &Config{doc: doc}, nil
}

func (c *Config) section(name string) map[string]any {
	if sec, ok := c.doc[name].(map[string]any); ok {
		return sec
	}
	return nil
}

// ID returns the corpus ID declared in the metadata section, if any.
func (c *Config) ID() string {
	if meta := c.section("metadata"); meta != nil {
		if id, ok := meta["id"].(string); ok {
			return id
		}
	}
	return ""
}

// Name returns the corpus display names declared in the metadata section.
func (c *Config) Name() map[string]any {
	if meta := c.section("metadata"); meta != nil {
		if name, ok := meta["name"].(map[string]any); ok {
			return name
		}
	}
	return nil
}

// Importer returns the importer module declared in the import section.
func (c *Config) Importer() string {
	if imp := c.section("import"); imp != nil {
		if m, ok := imp["importer"].(string); ok {
			return m
		}
	}
	return ""
}

// Standardize forces the metadata ID to the given resource ID and, when
// source files are known, pins the importer to the module matching them.
// The updated document is returned re-serialized.
func (c *Config) Standardize(resourceID string, sourceFiles []string) ([]byte, error) {
	meta := c.section("metadata")
	if meta == nil {
		meta = map[string]any{}
		c.doc["metadata"] = meta
	}
	meta["id"] = resourceID

	if len(sourceFiles) > 0 {
		if imp, ok := ImporterFor(sourceFiles[0]); ok {
			sec := c.section("import")
			if sec == nil {
				sec = map[string]any{}
				c.doc["import"] = sec
			}
			sec["importer"] = imp + ":parse"
		}
	}

	out, err := yaml.Marshal(c.doc)
	if err != nil {
		return nil, fmt.Errorf("serialize corpus config: %w", err)
	}
	return out, nil
}

// Validate checks that the configuration can drive an annotation run: the
// declared ID must match the resource and the declared importer, if any,
// must be able to read the given source files.
func (c *Config) Validate(resourceID string, sourceFiles []string) error {
	if id := c.ID(); id != "" && id != resourceID {
		return fmt.Errorf("corpus config declares ID %q, expected %q", id, resourceID)
	}
	if imp := c.Importer(); imp != "" && len(sourceFiles) > 0 {
		want, ok := ImporterFor(sourceFiles[0])
		if ok && !strings.HasPrefix(imp, want) {
			return fmt.Errorf("importer %q cannot read %q source files",
				imp, strings.TrimPrefix(filepath.Ext(sourceFiles[0]), "."))
		}
	}
	return CheckCompatibleSources(sourceFiles)
}
