// Package manifest reads and writes the project manifest: a small JSON
// document that makes a multi-file workbook reproducible from its
// source buffers.
package manifest

import (
	"context"
	"sort"

	json "github.com/goccy/go-json"

	"github.com/fileforge/fileforge/pkg/errors"
	"github.com/fileforge/fileforge/pkg/format"
	"github.com/fileforge/fileforge/pkg/handle"
	"github.com/fileforge/fileforge/pkg/importer"
	"github.com/fileforge/fileforge/pkg/workbook"
)

// SchemaVersion is the only manifest schema this codec accepts.
const SchemaVersion = 1

// Excel narrows a spreadsheet import to one object class or a list of
// named objects.
type Excel struct {
	Kind  string   `json:"kind,omitempty"`
	Names []string `json:"names,omitempty"`
}

// Source is one attached file with its open options.
type Source struct {
	Path         string `json:"path"`
	Format       string `json:"format,omitempty"`
	Delimiter    string `json:"delimiter,omitempty"`
	HasHeaderRow *bool  `json:"hasHeaderRow,omitempty"`
	Excel        *Excel `json:"excel,omitempty"`
}

// Rename records one applied rename, default name to technical name.
type Rename struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Manifest is the parsed project document. Fields this codec does not
// know about survive a parse and re-encode cycle.
type Manifest struct {
	SchemaVersion int      `json:"schemaVersion"`
	ProjectName   string   `json:"projectName,omitempty"`
	BaseFile      string   `json:"baseFile"`
	Sources       []Source `json:"sources"`
	Renames       []Rename `json:"renames,omitempty"`

	extra map[string]json.RawMessage
}

var knownKeys = map[string]bool{
	"schemaVersion": true,
	"projectName":   true,
	"baseFile":      true,
	"sources":       true,
	"renames":       true,
}

// Parse decodes and validates a manifest document.
func Parse(data []byte) (*Manifest, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errors.Wrap(err, errors.CodeMalformedInput, "manifest is not valid JSON")
	}

	type alias Manifest
	var m alias
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, errors.Wrap(err, errors.CodeMalformedInput, "manifest has malformed fields")
	}

	out := Manifest(m)
	for k, v := range raw {
		if knownKeys[k] {
			continue
		}
		if out.extra == nil {
			out.extra = make(map[string]json.RawMessage)
		}
		out.extra[k] = v
	}

	if err := out.validate(); err != nil {
		return nil, err
	}
	return &out, nil
}

func (m *Manifest) validate() error {
	if m.SchemaVersion != SchemaVersion {
		return errors.New(errors.CodeMalformedInput, "unsupported manifest schema version").
			WithContext("schemaVersion", m.SchemaVersion)
	}
	if m.BaseFile == "" {
		return errors.New(errors.CodeMalformedInput, "manifest has no baseFile")
	}
	if len(m.Sources) == 0 {
		return errors.New(errors.CodeMalformedInput, "manifest has no sources")
	}
	baseListed := false
	for i, s := range m.Sources {
		if s.Path == "" {
			return errors.New(errors.CodeMalformedInput, "manifest source has no path").
				WithContext("index", i)
		}
		if len(s.Delimiter) > 1 {
			return errors.New(errors.CodeMalformedInput, "delimiter must be a single character").
				WithContext("path", s.Path)
		}
		if s.Path == m.BaseFile {
			baseListed = true
		}
	}
	if !baseListed {
		return errors.New(errors.CodeMalformedInput, "baseFile is not listed in sources").
			WithContext("baseFile", m.BaseFile)
	}
	return nil
}

// Encode renders the manifest back to JSON, re-emitting any unknown
// fields captured at parse time.
func (m *Manifest) Encode() (string, error) {
	type alias Manifest
	data, err := json.Marshal(alias(*m))
	if err != nil {
		return "", errors.Wrap(err, errors.CodeExportFailed, "manifest encoding failed")
	}
	if len(m.extra) == 0 {
		return string(data), nil
	}

	var merged map[string]json.RawMessage
	if err := json.Unmarshal(data, &merged); err != nil {
		return "", errors.Wrap(err, errors.CodeExportFailed, "manifest encoding failed")
	}
	for k, v := range m.extra {
		merged[k] = v
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	buf := []byte{'{'}
	for i, k := range keys {
		if i > 0 {
			buf = append(buf, ',')
		}
		kb, _ := json.Marshal(k)
		buf = append(buf, kb...)
		buf = append(buf, ':')
		buf = append(buf, merged[k]...)
	}
	buf = append(buf, '}')
	return string(buf), nil
}

// Options maps one manifest source to the open parameters.
func (s *Source) Options() (format.Format, importer.Options, error) {
	f, err := format.Parse(s.Format)
	if err != nil {
		return format.Auto, importer.Options{}, err
	}

	opts := importer.Options{HasHeaderRow: true}
	if s.HasHeaderRow != nil {
		opts.HasHeaderRow = *s.HasHeaderRow
	}
	if s.Delimiter != "" {
		opts.Delimiter = s.Delimiter[0]
	}
	if s.Excel != nil {
		kind, err := importer.ParseObjectKind(s.Excel.Kind)
		if err != nil {
			return format.Auto, importer.Options{}, err
		}
		opts.ObjectKind = kind
		opts.ObjectNames = append([]string(nil), s.Excel.Names...)
	}
	return f, opts, nil
}

// Loader resolves a manifest path to the file's bytes.
type Loader func(path string) ([]byte, error)

// Import opens the base file, attaches the remaining sources in listed
// order, then applies the renames in listed order. Any accumulated
// error closes the workbook and fails the import as one aggregate.
func Import(ctx context.Context, m *Manifest, mgr *handle.Manager, load Loader) (uint64, error) {
	var base *Source
	rest := make([]*Source, 0, len(m.Sources))
	for i := range m.Sources {
		if m.Sources[i].Path == m.BaseFile && base == nil {
			base = &m.Sources[i]
		} else {
			rest = append(rest, &m.Sources[i])
		}
	}

	f, opts, err := base.Options()
	if err != nil {
		return 0, err
	}
	buf, err := load(base.Path)
	if err != nil {
		return 0, errors.Wrap(err, errors.CodeOpenFailed, "failed to read base file").
			WithContext("path", base.Path)
	}
	id, err := mgr.Open(ctx, buf, base.Path, f, opts)
	if err != nil {
		return 0, err
	}

	var multi errors.MultiError
	for _, s := range rest {
		f, opts, err := s.Options()
		if err != nil {
			multi.Add(err)
			continue
		}
		buf, err := load(s.Path)
		if err != nil {
			multi.Add(errors.Wrap(err, errors.CodeImportFailed, "failed to read source").
				WithContext("path", s.Path))
			continue
		}
		if err := mgr.Attach(ctx, id, buf, s.Path, f, opts); err != nil {
			multi.Add(err)
		}
	}

	wb, err := mgr.Get(id)
	if err != nil {
		return 0, err
	}
	for _, r := range m.Renames {
		if err := wb.Rename(ctx, r.From, r.To); err != nil {
			multi.Add(err)
		}
	}

	if multi.HasErrors() {
		mgr.Close(id)
		return 0, errors.Wrap(multi.Combined(), errors.CodeImportFailed, "manifest import failed")
	}
	return id, nil
}

// Export builds the manifest for a live workbook. The base file is the
// first attached source; an empty project name defaults to its stem.
func Export(wb *workbook.Workbook, projectName string) (*Manifest, error) {
	sources := wb.Sources()
	if len(sources) == 0 {
		return nil, errors.New(errors.CodeExportFailed, "workbook has no sources")
	}

	m := &Manifest{
		SchemaVersion: SchemaVersion,
		ProjectName:   projectName,
		BaseFile:      sources[0].Path,
		Sources:       make([]Source, len(sources)),
	}
	if m.ProjectName == "" {
		m.ProjectName = importer.FileStem(m.BaseFile)
	}

	for i, s := range sources {
		m.Sources[i] = sourceEntry(s)
	}

	for _, name := range wb.DatasetNames() {
		meta, ok := wb.Dataset(name)
		if !ok || meta.TechnicalName == meta.DefaultName {
			continue
		}
		m.Renames = append(m.Renames, Rename{From: meta.DefaultName, To: meta.TechnicalName})
	}
	return m, nil
}

// sourceEntry reconstructs the manifest entry from the recorded open
// options.
func sourceEntry(s workbook.Source) Source {
	out := Source{
		Path:   s.Path,
		Format: s.Format.String(),
	}
	if s.Options.Delimiter != 0 {
		out.Delimiter = string(s.Options.Delimiter)
	}
	hdr := s.Options.HasHeaderRow
	out.HasHeaderRow = &hdr

	if s.Options.ObjectKind != importer.ObjectAny || len(s.Options.ObjectNames) > 0 {
		out.Excel = &Excel{
			Names: append([]string(nil), s.Options.ObjectNames...),
		}
		if s.Options.ObjectKind != importer.ObjectAny {
			out.Excel.Kind = s.Options.ObjectKind.String()
		}
	}
	return out
}
