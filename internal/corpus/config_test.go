package corpus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestImporterFor(t *testing.T) {
	imp, ok := ImporterFor("doc.xml")
	assert.True(t, ok)
	assert.Equal(t, "xml_import", imp)

	imp, ok = ImporterFor("doc.TXT")
	assert.True(t, ok)
	assert.Equal(t, "text_import", imp)

	_, ok = ImporterFor("doc.jpg")
	assert.False(t, ok)
}

func TestCheckCompatibleSources(t *testing.T) {
	assert.NoError(t, CheckCompatibleSources(nil))
	assert.NoError(t, CheckCompatibleSources([]string{"a.xml", "b.xml"}))

	err := CheckCompatibleSources([]string{"a.xml", "b.txt"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "share one file type")

	err = CheckCompatibleSources([]string{"a.jpg"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not supported")
}

const sampleConfig = `
metadata:
  id: somecorpus
  name:
    eng: Some Corpus
    swe: En korpus
import:
  importer: text_import:parse
export:
  annotations:
    - <sentence>
`

func TestParseConfigFields(t *testing.T) {
	cfg, err := ParseConfig([]byte(sampleConfig))
	require.NoError(t, err)
	assert.Equal(t, "somecorpus", cfg.ID())
	assert.Equal(t, "text_import:parse", cfg.Importer())
	assert.Equal(t, "Some Corpus", cfg.Name()["eng"])
}

func TestStandardizeForcesIDAndImporter(t *testing.T) {
	cfg, err := ParseConfig([]byte(sampleConfig))
	require.NoError(t, err)

	out, err := cfg.Standardize("mink-abc123", []string{"a.xml"})
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, yaml.Unmarshal(out, &doc))
	meta := doc["metadata"].(map[string]any)
	assert.Equal(t, "mink-abc123", meta["id"])
	imp := doc["import"].(map[string]any)
	assert.Equal(t, "xml_import:parse", imp["importer"])

	// Unrelated sections survive the round trip.
	assert.Contains(t, doc, "export")
}

func TestStandardizeCreatesMissingSections(t *testing.T) {
	cfg, err := ParseConfig([]byte("export:\n  annotations: []\n"))
	require.NoError(t, err)

	out, err := cfg.Standardize("mink-abc123", []string{"a.txt"})
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, yaml.Unmarshal(out, &doc))
	assert.Equal(t, "mink-abc123", doc["metadata"].(map[string]any)["id"])
	assert.Equal(t, "text_import:parse", doc["import"].(map[string]any)["importer"])
}

func TestValidate(t *testing.T) {
	cfg, err := ParseConfig([]byte(sampleConfig))
	require.NoError(t, err)

	// Declared ID differs from the resource.
	err = cfg.Validate("mink-abc123", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "declares ID")

	// Matching ID but importer cannot read the sources.
	cfg, err = ParseConfig([]byte("metadata:\n  id: mink-abc123\nimport:\n  importer: text_import:parse\n"))
	require.NoError(t, err)
	err = cfg.Validate("mink-abc123", []string{"a.xml"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot read")

	// Compatible setup passes.
	assert.NoError(t, cfg.Validate("mink-abc123", []string{"a.txt", "b.txt"}))
}

func TestParseConfigRejectsInvalidYAML(t *testing.T) {
	_, err := ParseConfig([]byte("metadata: [unclosed"))
	assert.Error(t, err)
}
