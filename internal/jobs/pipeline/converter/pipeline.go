package converter

import (
	"archive/zip"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"gorm.io/datatypes"

	types "github.com/yungbote/dataset-engine/internal/domain/datasets"
	jobrt "github.com/yungbote/dataset-engine/internal/jobs/runtime"
	"github.com/yungbote/dataset-engine/internal/platform/gcp"
)

func (p *Pipeline) Run(jc *jobrt.Context) error {
	ds := jc.Dataset
	orig := ds.OriginalFileInfo()
	if orig == nil {
		return fmt.Errorf("dataset has no uploaded file")
	}
	if types.IsBaseMimeType(orig.MimeType) {
		file := *orig
		return jc.Commit(types.StatusLoaded, map[string]interface{}{"file": datatypes.NewJSONType(&file)})
	}

	src, err := p.bucket.DownloadFile(jc.Ctx, gcp.BucketCategoryDatasets, types.OriginalFileKey(ds.ID, orig.Name))
	if err != nil {
		return fmt.Errorf("download original file: %w", err)
	}
	defer src.Close()

	var file *types.FileInfo
	switch archiveKind(orig) {
	case types.MimeGzip:
		file, err = p.gunzip(jc, src, orig.Name)
	case types.MimeZip:
		file, err = p.unzip(jc, src)
	default:
		return fmt.Errorf("unsupported file format %q", orig.MimeType)
	}
	if err != nil {
		return err
	}
	jc.Log.Info("file converted", "from", orig.Name, "to", file.Name, "size", file.Size)
	return jc.Commit(types.StatusLoaded, map[string]interface{}{"file": datatypes.NewJSONType(file)})
}

func archiveKind(orig *types.FileInfo) string {
	switch {
	case orig.MimeType == types.MimeGzip || orig.MimeType == "application/x-gzip" || strings.HasSuffix(orig.Name, ".gz"):
		return types.MimeGzip
	case orig.MimeType == types.MimeZip || orig.MimeType == "application/x-zip-compressed" || strings.HasSuffix(orig.Name, ".zip"):
		return types.MimeZip
	}
	return ""
}

// innerFile checks that an archived name holds a format the analyzer reads.
func innerFile(name string) (string, string, error) {
	base := path.Base(name)
	mimeType := gcp.ContentTypeForKey(base)
	if !types.IsBaseMimeType(mimeType) {
		return "", "", fmt.Errorf("archived file %q is neither csv nor geojson", base)
	}
	return base, mimeType, nil
}

func (p *Pipeline) store(jc *jobrt.Context, name, mimeType string, r io.Reader) (*types.FileInfo, error) {
	size, err := p.bucket.UploadFile(jc.Ctx, gcp.BucketCategoryDatasets, types.FileKey(jc.Dataset.ID, name), r)
	if err != nil {
		return nil, fmt.Errorf("store converted file: %w", err)
	}
	return &types.FileInfo{Name: name, Size: size, MimeType: mimeType}, nil
}

func (p *Pipeline) gunzip(jc *jobrt.Context, src io.Reader, archiveName string) (*types.FileInfo, error) {
	zr, err := gzip.NewReader(src)
	if err != nil {
		return nil, fmt.Errorf("open gzip: %w", err)
	}
	defer zr.Close()
	name := zr.Name
	if name == "" {
		name = strings.TrimSuffix(archiveName, ".gz")
	}
	name, mimeType, err := innerFile(name)
	if err != nil {
		return nil, err
	}
	return p.store(jc, name, mimeType, zr)
}

// unzip spools the archive to a temp file because the zip directory sits at its end.
func (p *Pipeline) unzip(jc *jobrt.Context, src io.Reader) (*types.FileInfo, error) {
	tmp, err := os.CreateTemp("", "dataset-*.zip")
	if err != nil {
		return nil, fmt.Errorf("spool zip: %w", err)
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()
	size, err := io.Copy(tmp, src)
	if err != nil {
		return nil, fmt.Errorf("spool zip: %w", err)
	}
	zr, err := zip.NewReader(tmp, size)
	if err != nil {
		return nil, fmt.Errorf("open zip: %w", err)
	}
	var entries []*zip.File
	for _, f := range zr.File {
		if f.FileInfo().IsDir() || strings.HasPrefix(path.Base(f.Name), ".") || strings.HasPrefix(f.Name, "__MACOSX/") {
			continue
		}
		entries = append(entries, f)
	}
	if len(entries) != 1 {
		return nil, fmt.Errorf("zip archive must contain exactly one file, found %d", len(entries))
	}
	name, mimeType, err := innerFile(entries[0].Name)
	if err != nil {
		return nil, err
	}
	rc, err := entries[0].Open()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", entries[0].Name, err)
	}
	defer rc.Close()
	return p.store(jc, name, mimeType, rc)
}
