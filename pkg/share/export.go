// Package share moves personas in and out of the local store: zip
// bundle export, and import from bundles or share URLs. Everything
// imported passes the same validation path as locally created
// personas.
package share

import (
	"archive/zip"
	"encoding/json"
	"fmt"
	"io"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/personahub/personahub/pkg/persona"
)

// manifestName is the bundle index file.
const manifestName = "manifest.json"

type manifestEntry struct {
	Slug        string `json:"slug"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Version     string `json:"version"`
}

// Export writes the named personas as a zip bundle. Each persona is
// re-read through the store, so only content that passes validation
// can leave the machine.
func Export(store *persona.Store, slugs []string, out io.Writer) error {
	archive := zip.NewWriter(out)
	manifest := []manifestEntry{}

	for _, slug := range slugs {
		loaded, err := store.Load(slug)
		if err != nil {
			return fmt.Errorf("failed exporting %s: %w", slug, err)
		}

		writer, err := archive.Create(slug + ".md")
		if err != nil {
			return err
		}
		document, err := composeDocument(loaded)
		if err != nil {
			return err
		}
		if _, err := writer.Write(document); err != nil {
			return err
		}

		manifest = append(manifest, manifestEntry{
			Slug:        loaded.Slug,
			Name:        loaded.Meta.Name,
			Description: loaded.Meta.Description,
			Version:     loaded.Meta.Version,
		})
		log.Debug().Str("slug", slug).Msg("Persona added to bundle")
	}

	writer, err := archive.Create(manifestName)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(writer).Encode(manifest); err != nil {
		return err
	}
	return archive.Close()
}

func composeDocument(p *persona.Persona) ([]byte, error) {
	encoded, err := yaml.Marshal(p.Meta)
	if err != nil {
		return nil, err
	}
	document := append([]byte("---\n"), encoded...)
	document = append(document, []byte("---\n")...)
	document = append(document, []byte(p.Body)...)
	return document, nil
}
