package sink

import (
	"context"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/MeKo-Tech/tabscan/internal/model"
)

type manifestDoc struct {
	Document string              `yaml:"document"`
	Status   model.Status        `yaml:"status"`
	Reason   string              `yaml:"reason,omitempty"`
	Rows     int                 `yaml:"rows"`
	Columns  int                 `yaml:"columns"`
	Pages    []model.PageOutcome `yaml:"pages"`
}

// EncodeManifest writes a YAML summary of res, its per-page outcomes included.
func EncodeManifest(w io.Writer, res *model.JobResult) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	doc := manifestDoc{
		Document: res.DocumentID,
		Status:   res.Status,
		Reason:   res.Reason,
		Rows:     len(res.Table.Rows),
		Columns:  res.Table.Columns,
		Pages:    res.Manifest.Pages,
	}
	if err := enc.Encode(doc); err != nil {
		return err
	}
	return enc.Close()
}

// WriteManifest saves the YAML summary at dest.
func WriteManifest(ctx context.Context, res *model.JobResult, dest string) error {
	return writeFile(ctx, dest, func(w io.Writer) error { return EncodeManifest(w, res) })
}
