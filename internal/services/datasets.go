package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"regexp"
	"slices"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/yungbote/dataset-engine/internal/cache"
	"github.com/yungbote/dataset-engine/internal/data/repos/datasets"
	"github.com/yungbote/dataset-engine/internal/data/repos/rows"
	types "github.com/yungbote/dataset-engine/internal/domain/datasets"
	"github.com/yungbote/dataset-engine/internal/platform/apierr"
	"github.com/yungbote/dataset-engine/internal/platform/dbctx"
	"github.com/yungbote/dataset-engine/internal/platform/gcp"
	"github.com/yungbote/dataset-engine/internal/platform/logger"
	"github.com/yungbote/dataset-engine/internal/schema"
	"github.com/yungbote/dataset-engine/internal/search"
)

// CreateInput describes a new dataset. Exactly one row source applies: a file passed to
// CreateFromFile, IsRest, or Virtual.
type CreateInput struct {
	ID          string                `json:"id,omitempty"`
	Title       string                `json:"title"`
	Description string                `json:"description,omitempty"`
	Owner       types.Owner           `json:"owner"`
	IsRest      bool                  `json:"isRest,omitempty"`
	Rest        types.RestOptions     `json:"rest,omitempty"`
	Virtual     *types.VirtualOptions `json:"virtual,omitempty"`
	Schema      []types.Field         `json:"schema,omitempty"`
	Extensions  []types.Extension     `json:"extensions,omitempty"`
	Analysis    types.AnalysisOptions `json:"analysis,omitempty"`
}

type FileUpload struct {
	Name     string
	MimeType string
	Body     io.Reader
}

// DatasetPatch is a partial metadata update. Nil members are left unchanged.
type DatasetPatch struct {
	Title       *string                `json:"title,omitempty"`
	Description *string                `json:"description,omitempty"`
	Schema      []types.Field          `json:"schema,omitempty"`
	Extensions  []types.Extension      `json:"extensions,omitempty"`
	Rest        *types.RestOptions     `json:"rest,omitempty"`
	Analysis    *types.AnalysisOptions `json:"analysis,omitempty"`
	Virtual     *types.VirtualOptions  `json:"virtual,omitempty"`
}

func (p DatasetPatch) touchesPipeline() bool {
	return p.Schema != nil || p.Extensions != nil || p.Rest != nil || p.Analysis != nil || p.Virtual != nil
}

func (p DatasetPatch) empty() bool {
	return !p.touchesPipeline() && p.Title == nil && p.Description == nil
}

type DatasetService interface {
	Create(ctx context.Context, in CreateInput) (*types.Dataset, error)
	CreateFromFile(ctx context.Context, in CreateInput, file FileUpload) (*types.Dataset, error)
	ReplaceFile(ctx context.Context, id string, file FileUpload) (*types.Dataset, error)
	Get(ctx context.Context, id string) (*types.Dataset, error)
	List(ctx context.Context, f datasets.ListFilter) ([]*types.Dataset, error)
	Patch(ctx context.Context, id string, patch DatasetPatch) (*types.Dataset, error)
	Delete(ctx context.Context, id string) error
	Journal(ctx context.Context, id string, limit int) ([]*types.JournalEvent, error)

	// AdvanceStatus moves a dataset from one status to another, failing when it moved.
	AdvanceStatus(ctx context.Context, id string, from, to types.Status) error
	ForceReindex(ctx context.Context, id string) error
	ForceRefinalize(ctx context.Context, id string) error
}

type DatasetConfig struct {
	IndexPrefix string
}

type datasetService struct {
	db        *gorm.DB
	log       *logger.Logger
	cfg       DatasetConfig
	datasets  datasets.DatasetRepo
	rows      rows.RowRepo
	revisions rows.RevisionRepo
	journal   datasets.JournalRepo
	results   datasets.ExtensionResultRepo
	catalog   RemoteServiceCatalog
	engine    search.Engine
	bucket    gcp.BucketService
	cache     *cache.Cache
	storage   StorageService
	notifier  Notifier
}

type DatasetServiceDeps struct {
	DB        *gorm.DB
	Datasets  datasets.DatasetRepo
	Rows      rows.RowRepo
	Revisions rows.RevisionRepo
	Journal   datasets.JournalRepo
	Results   datasets.ExtensionResultRepo
	Catalog   RemoteServiceCatalog
	Engine    search.Engine
	Bucket    gcp.BucketService
	Cache     *cache.Cache
	Storage   StorageService
	Notifier  Notifier
}

func NewDatasetService(cfg DatasetConfig, deps DatasetServiceDeps, baseLog *logger.Logger) DatasetService {
	return &datasetService{
		db:        deps.DB,
		log:       baseLog.With("service", "DatasetService"),
		cfg:       cfg,
		datasets:  deps.Datasets,
		rows:      deps.Rows,
		revisions: deps.Revisions,
		journal:   deps.Journal,
		results:   deps.Results,
		catalog:   deps.Catalog,
		engine:    deps.Engine,
		bucket:    deps.Bucket,
		cache:     deps.Cache,
		storage:   deps.Storage,
		notifier:  deps.Notifier,
	}
}

var idPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// Slugify turns a title into a dataset id: accents dropped, lower case, runs of other
// characters collapsed to one dash.
func Slugify(title string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	s, _, err := transform.String(t, title)
	if err != nil {
		s = title
	}
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	out := strings.TrimRight(b.String(), "-")
	if len(out) > 100 {
		out = strings.TrimRight(out[:100], "-")
	}
	if out == "" {
		out = "dataset"
	}
	return out
}

func (s *datasetService) resolveID(ctx context.Context, in CreateInput) (string, error) {
	dbc := dbctx.With(ctx)
	if in.ID != "" {
		if !idPattern.MatchString(in.ID) {
			return "", apierr.Validation("dataset id %q must contain only lower case letters, digits, - and _", in.ID)
		}
		existing, err := s.datasets.GetByID(dbc, in.ID)
		if err != nil {
			return "", err
		}
		if existing != nil {
			return "", apierr.Conflict("dataset %s already exists", in.ID)
		}
		return in.ID, nil
	}
	base := Slugify(in.Title)
	taken, err := s.datasets.ExistingIDs(dbc, base)
	if err != nil {
		return "", err
	}
	if !taken[base] {
		return base, nil
	}
	for n := 2; ; n++ {
		if id := fmt.Sprintf("%s-%d", base, n); !taken[id] {
			return id, nil
		}
	}
}

func validateFields(fields []types.Field) error {
	seen := map[string]bool{}
	for _, f := range fields {
		if f.Key == "" {
			return apierr.Validation("schema field without key")
		}
		if seen[f.Key] {
			return apierr.Validation("duplicate schema field %q", f.Key)
		}
		seen[f.Key] = true
		if f.Underscored() {
			return apierr.Validation("schema field %q uses the reserved _ prefix", f.Key)
		}
		switch f.Type {
		case types.TypeString, types.TypeInteger, types.TypeNumber, types.TypeBoolean:
		default:
			return apierr.Validation("schema field %q has unsupported type %q", f.Key, f.Type)
		}
	}
	return nil
}

func validateExtensions(exts []types.Extension, services map[string]*types.RemoteService) error {
	for _, ext := range exts {
		svc, ok := services[ext.RemoteService]
		if !ok {
			return apierr.Validation("unknown remote service %q", ext.RemoteService)
		}
		if _, ok := svc.FindAction(ext.Action); !ok {
			return apierr.Validation("remote service %s has no action %q", ext.RemoteService, ext.Action)
		}
	}
	return nil
}

func validateRest(opts types.RestOptions, fields []types.Field) error {
	if !opts.TTL.Active {
		return nil
	}
	f, ok := types.FindField(fields, opts.TTL.Prop)
	if !ok {
		return apierr.Validation("ttl property %q is not in the schema", opts.TTL.Prop)
	}
	if !f.IsDateTime() && f.Format != types.FormatDate {
		return apierr.Validation("ttl property %q must be a date or date-time", opts.TTL.Prop)
	}
	if opts.TTL.Delay.Value <= 0 {
		return apierr.Validation("ttl delay must be positive")
	}
	return nil
}

// FullSchema is the stored schema: base fields, extension outputs, calculated fields.
func FullSchema(base []types.Field, exts []types.Extension, services map[string]*types.RemoteService, isRest bool) []types.Field {
	withExt := schema.WithExtensions(schema.Strip(base), exts, services)
	return schema.Extended(withExt, schema.Options{IsRest: isRest})
}

func (s *datasetService) Create(ctx context.Context, in CreateInput) (*types.Dataset, error) {
	isVirtual := in.Virtual != nil
	if in.IsRest == isVirtual {
		return nil, apierr.Validation("a dataset needs exactly one row source: a file, rest or virtual")
	}
	services, err := s.catalog.All(ctx)
	if err != nil {
		return nil, err
	}
	base := schema.Strip(in.Schema)
	if err := validateFields(base); err != nil {
		return nil, err
	}
	if err := validateExtensions(in.Extensions, services); err != nil {
		return nil, err
	}
	id, err := s.resolveID(ctx, in)
	if err != nil {
		return nil, err
	}
	ds := s.newDataset(id, in)
	if in.IsRest {
		if err := validateRest(in.Rest, base); err != nil {
			return nil, err
		}
		ds.IsRest = true
		ds.Status = types.StatusSchematized
		ds.Rest = datatypes.NewJSONType(in.Rest)
		ds.Schema = datatypes.JSONSlice[types.Field](FullSchema(base, in.Extensions, services, true))
	} else {
		if err := s.checkChildren(ctx, in.Owner, in.Virtual.Children); err != nil {
			return nil, err
		}
		ds.IsVirtual = true
		ds.Status = types.StatusIndexed
		ds.Virtual = datatypes.NewJSONType(*in.Virtual)
		ds.Schema = datatypes.JSONSlice[types.Field](base)
	}
	if err := s.datasets.Create(dbctx.With(ctx), ds); err != nil {
		return nil, fmt.Errorf("create dataset: %w", err)
	}
	s.journalCreated(ctx, ds)
	return ds, nil
}

func (s *datasetService) newDataset(id string, in CreateInput) *types.Dataset {
	title := in.Title
	if title == "" {
		title = id
	}
	return &types.Dataset{
		ID:          id,
		Title:       title,
		Description: in.Description,
		OwnerType:   in.Owner.Type,
		OwnerID:     in.Owner.ID,
		Analysis:    datatypes.NewJSONType(in.Analysis),
		Rest:        datatypes.NewJSONType(types.RestOptions{}),
		Virtual:     datatypes.NewJSONType(types.VirtualOptions{}),
		Storage:     datatypes.NewJSONType(types.StorageInfo{}),
		Extensions:  datatypes.JSONSlice[types.Extension](in.Extensions),
	}
}

func (s *datasetService) journalCreated(ctx context.Context, ds *types.Dataset) {
	if err := s.notifier.Journal(ctx, ds.ID, types.EventDatasetCreated, "", map[string]any{"status": ds.Status}); err != nil {
		s.log.Warn("journal append failed", "dataset_id", ds.ID, "error", err)
	}
}

func (s *datasetService) checkChildren(ctx context.Context, owner types.Owner, children []string) error {
	if len(children) == 0 {
		return nil
	}
	found, err := s.datasets.List(dbctx.With(ctx), datasets.ListFilter{IDs: children})
	if err != nil {
		return err
	}
	byID := map[string]*types.Dataset{}
	for _, c := range found {
		byID[c.ID] = c
	}
	for _, id := range children {
		c, ok := byID[id]
		if !ok {
			return apierr.Validation("child dataset %s not found", id)
		}
		if c.Owner() != owner {
			return apierr.Validation("child dataset %s belongs to another owner", id)
		}
		if c.IsVirtual {
			return apierr.Validation("child dataset %s is itself virtual", id)
		}
	}
	return nil
}

// fileMime resolves the declared media type, falling back to the file extension.
func fileMime(file FileUpload) (mimeType, charset string) {
	if file.MimeType != "" {
		if mt, params, err := mime.ParseMediaType(file.MimeType); err == nil {
			mimeType, charset = mt, params["charset"]
		}
	}
	byExt := gcp.ContentTypeForKey(file.Name)
	switch {
	case mimeType == "", mimeType == "application/octet-stream":
		mimeType = byExt
	case mimeType == "application/json" && byExt == types.MimeGeoJSON:
		mimeType = byExt
	case mimeType == "application/x-gzip":
		mimeType = types.MimeGzip
	case mimeType == "application/x-zip-compressed":
		mimeType = types.MimeZip
	}
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = mimeType[:i]
	}
	return mimeType, charset
}

func cleanFileName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	if i := strings.LastIndexByte(name, '/'); i >= 0 {
		name = name[i+1:]
	}
	if name == "" || name == "." || name == ".." {
		return "file"
	}
	return name
}

func (s *datasetService) uploadOriginal(ctx context.Context, id string, file FileUpload) (*types.FileInfo, error) {
	name := cleanFileName(file.Name)
	mimeType, charset := fileMime(FileUpload{Name: name, MimeType: file.MimeType})
	size, err := s.bucket.UploadFile(ctx, gcp.BucketCategoryDatasets, types.OriginalFileKey(id, name), file.Body)
	if err != nil {
		return nil, fmt.Errorf("store uploaded file: %w", err)
	}
	return &types.FileInfo{Name: name, Size: size, MimeType: mimeType, Encoding: strings.ToUpper(charset)}, nil
}

// applyOriginal sets the file columns for a freshly uploaded original and returns the
// status the pipeline restarts from.
func applyOriginal(ds *types.Dataset, orig *types.FileInfo) types.Status {
	ds.OriginalFile = datatypes.NewJSONType(orig)
	if types.IsBaseMimeType(orig.MimeType) {
		cp := *orig
		ds.File = datatypes.NewJSONType(&cp)
		return types.StatusLoaded
	}
	ds.File = datatypes.NewJSONType[*types.FileInfo](nil)
	return types.StatusUploaded
}

func (s *datasetService) CreateFromFile(ctx context.Context, in CreateInput, file FileUpload) (*types.Dataset, error) {
	if in.IsRest || in.Virtual != nil {
		return nil, apierr.Validation("a file dataset cannot also be rest or virtual")
	}
	if file.Body == nil {
		return nil, apierr.Validation("missing file")
	}
	if in.Title == "" {
		in.Title = strings.TrimSuffix(cleanFileName(file.Name), pathExt(file.Name))
	}
	probe := &types.Dataset{OwnerType: in.Owner.Type, OwnerID: in.Owner.ID}
	if err := s.storage.CheckQuota(ctx, probe); err != nil {
		return nil, err
	}
	services, err := s.catalog.All(ctx)
	if err != nil {
		return nil, err
	}
	if err := validateExtensions(in.Extensions, services); err != nil {
		return nil, err
	}
	id, err := s.resolveID(ctx, in)
	if err != nil {
		return nil, err
	}
	orig, err := s.uploadOriginal(ctx, id, file)
	if err != nil {
		return nil, err
	}
	ds := s.newDataset(id, in)
	ds.Status = applyOriginal(ds, orig)
	ds.Schema = datatypes.JSONSlice[types.Field](schema.Strip(in.Schema))
	if err := s.datasets.Create(dbctx.With(ctx), ds); err != nil {
		if cleanupErr := s.bucket.DeletePrefix(ctx, gcp.BucketCategoryDatasets, types.BlobPrefix(id)); cleanupErr != nil {
			s.log.Warn("blob cleanup failed", "dataset_id", id, "error", cleanupErr)
		}
		return nil, fmt.Errorf("create dataset: %w", err)
	}
	s.journalCreated(ctx, ds)
	s.storage.RefreshAsync(id)
	return ds, nil
}

func pathExt(name string) string {
	name = cleanFileName(name)
	if i := strings.LastIndexByte(name, '.'); i > 0 {
		return name[i:]
	}
	return ""
}

func (s *datasetService) ReplaceFile(ctx context.Context, id string, file FileUpload) (*types.Dataset, error) {
	ds, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if ds.IsRest || ds.IsVirtual {
		return nil, apierr.Validation("dataset %s has no file", id)
	}
	if !ds.Status.Stable() {
		return nil, apierr.Conflict("dataset %s is being processed (%s)", id, ds.Status)
	}
	if err := s.storage.CheckQuota(ctx, ds); err != nil {
		return nil, err
	}
	if err := s.bucket.DeletePrefix(ctx, gcp.BucketCategoryDatasets, types.BlobPrefix(id)); err != nil {
		return nil, fmt.Errorf("drop previous files: %w", err)
	}
	orig, err := s.uploadOriginal(ctx, id, file)
	if err != nil {
		return nil, err
	}
	from := ds.Status
	to := applyOriginal(ds, orig)
	updates := resetClaim(to)
	updates["original_file"] = ds.OriginalFile
	updates["file"] = ds.File
	ok, err := s.datasets.UpdateFieldsIfStatus(dbctx.With(ctx), id, []types.Status{from}, updates)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apierr.Conflict("dataset %s changed status concurrently", id)
	}
	s.journalRewound(ctx, id, from, to, "file replaced")
	s.storage.RefreshAsync(id)
	return s.Get(ctx, id)
}

func (s *datasetService) Get(ctx context.Context, id string) (*types.Dataset, error) {
	ds, err := s.datasets.GetByID(dbctx.With(ctx), id)
	if err != nil {
		return nil, err
	}
	if ds == nil {
		return nil, apierr.NotFound("dataset %s not found", id)
	}
	return ds, nil
}

func (s *datasetService) List(ctx context.Context, f datasets.ListFilter) ([]*types.Dataset, error) {
	return s.datasets.List(dbctx.With(ctx), f)
}

func (s *datasetService) Journal(ctx context.Context, id string, limit int) ([]*types.JournalEvent, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.journal.List(dbctx.With(ctx), id, limit)
}

// rewind tracks the earliest status a patch requires.
type rewind struct {
	to      types.Status
	reasons []string
}

func (r *rewind) at(st types.Status, reason string) {
	if r.to == "" {
		r.to = st
	} else {
		r.to = types.Earliest(r.to, st)
	}
	r.reasons = append(r.reasons, reason)
}

func (s *datasetService) Patch(ctx context.Context, id string, patch DatasetPatch) (*types.Dataset, error) {
	ds, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if patch.empty() {
		return ds, nil
	}
	if patch.touchesPipeline() && !ds.Status.Stable() {
		return nil, apierr.Conflict("dataset %s is being processed (%s)", id, ds.Status)
	}
	services, err := s.catalog.All(ctx)
	if err != nil {
		return nil, err
	}

	updates := map[string]interface{}{}
	var rw rewind
	if patch.Title != nil {
		updates["title"] = *patch.Title
	}
	if patch.Description != nil {
		updates["description"] = *patch.Description
	}

	oldBase := schema.Strip(ds.SchemaFields())
	newBase := oldBase
	if patch.Schema != nil {
		newBase = schema.Strip(patch.Schema)
		if err := validateFields(newBase); err != nil {
			return nil, err
		}
	}
	exts := []types.Extension(ds.Extensions)
	var dropKeys []string
	if patch.Extensions != nil {
		if err := validateExtensions(patch.Extensions, services); err != nil {
			return nil, err
		}
		var to types.Status
		exts, to, dropKeys = diffExtensions(ds.Extensions, patch.Extensions)
		if to != "" {
			rw.at(to, "extensions changed")
		}
		updates["extensions"] = datatypes.JSONSlice[types.Extension](exts)
	}
	if patch.Analysis != nil && *patch.Analysis != ds.AnalysisOptions() {
		if ds.IsRest || ds.IsVirtual {
			return nil, apierr.Validation("analysis options only apply to file datasets")
		}
		rw.at(types.StatusLoaded, "analysis options changed")
		updates["analysis"] = datatypes.NewJSONType(*patch.Analysis)
	}
	if patch.Virtual != nil {
		if !ds.IsVirtual {
			return nil, apierr.Validation("dataset %s is not virtual", id)
		}
		if err := s.checkChildren(ctx, ds.Owner(), patch.Virtual.Children); err != nil {
			return nil, err
		}
		if !slices.Equal(patch.Virtual.Children, ds.VirtualOptions().Children) {
			rw.at(types.StatusIndexed, "children changed")
		}
		updates["virtual"] = datatypes.NewJSONType(*patch.Virtual)
	}
	if patch.Rest != nil {
		if !ds.IsRest {
			return nil, apierr.Validation("dataset %s is not a REST dataset", id)
		}
		if err := validateRest(*patch.Rest, newBase); err != nil {
			return nil, err
		}
		opts := *patch.Rest
		opts.TTL.CheckedAt = ds.RestOptions().TTL.CheckedAt
		updates["rest"] = datatypes.NewJSONType(opts)
	}

	var newSchema []types.Field
	switch {
	case ds.IsVirtual:
		newSchema = newBase
	case !ds.IsRest && ds.FileInfo() == nil:
		// the schematizer has not seen the file yet
		newSchema = newBase
	default:
		newSchema = FullSchema(newBase, exts, services, ds.IsRest)
	}
	change := schema.Compare(oldBase, newBase)
	if change.Analysis {
		if ds.IsRest {
			rw.at(types.StatusSchematized, "field parsing changed")
		} else {
			rw.at(types.StatusLoaded, "field parsing changed")
		}
	}
	if change.Derivation {
		rw.at(types.StatusSchematized, "derived fields changed")
	}
	if change.Removed {
		rw.at(types.StatusSchematized, "fields removed")
	}
	if patch.Schema != nil || patch.Extensions != nil {
		updates["schema"] = datatypes.JSONSlice[types.Field](newSchema)
	}
	if !ds.IsVirtual && (rw.to == "" || !atOrBefore(rw.to, types.StatusSchematized)) && !schema.SameMapping(ds.SchemaFields(), newSchema) {
		if err := s.updateMapping(ctx, ds, newSchema); err != nil {
			if !errors.Is(err, search.ErrIncompatibleMapping) && !errors.Is(err, search.ErrIndexNotFound) {
				return nil, apierr.Upstream(fmt.Errorf("update index mapping: %w", err))
			}
			rw.at(types.StatusSchematized, "mapping change needs a new index")
		}
	}
	if ds.Status == types.StatusError {
		rw.at(ds.StartStatus(), "restart after error")
	}

	from := ds.Status
	if rw.to != "" {
		for k, v := range resetClaim(rw.to) {
			updates[k] = v
		}
	}
	ok, err := s.datasets.UpdateFieldsIfStatus(dbctx.With(ctx), id, []types.Status{from}, updates)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apierr.Conflict("dataset %s changed status concurrently", id)
	}
	for _, key := range dropKeys {
		if err := s.results.DeleteByKey(dbctx.With(ctx), id, key); err != nil {
			s.log.Warn("drop extension results failed", "dataset_id", id, "extension", key, "error", err)
		}
	}
	if rw.to != "" {
		s.journalRewound(ctx, id, from, rw.to, strings.Join(rw.reasons, ", "))
		if err := s.cache.Invalidate(ctx, id); err != nil {
			s.log.Warn("cache invalidation failed", "dataset_id", id, "error", err)
		}
	}
	return s.Get(ctx, id)
}

// atOrBefore reports whether a is at or before b on the happy path.
func atOrBefore(a, b types.Status) bool {
	return types.Earliest(a, b) == a
}

func (s *datasetService) updateMapping(ctx context.Context, ds *types.Dataset, fields []types.Field) error {
	alias := types.AliasName(s.cfg.IndexPrefix, ds.ID)
	return s.engine.PutMapping(ctx, alias, schema.Mapping(fields))
}

// diffExtensions merges the patched extension list with the stored one and returns the
// rewind it implies plus the extension keys whose stored results are stale.
func diffExtensions(old, next []types.Extension) ([]types.Extension, types.Status, []string) {
	var rw rewind
	var drop []string
	merged := make([]types.Extension, 0, len(next))
	for _, n := range next {
		idx := slices.IndexFunc(old, n.SameTarget)
		if idx < 0 {
			if n.Active {
				rw.at(types.StatusIndexed, "added")
			}
			n.Progress, n.Error = 0, ""
			merged = append(merged, n)
			continue
		}
		o := old[idx]
		n.Progress, n.Error = o.Progress, o.Error
		switch {
		case n.Active && !o.Active:
			rw.at(types.StatusIndexed, "activated")
		case !n.Active && o.Active:
			rw.at(types.StatusSchematized, "deactivated")
		case n.Active && !sameSelection(o.Select, n.Select):
			if narrows(o.Select, n.Select) {
				rw.at(types.StatusSchematized, "narrowed")
			} else {
				rw.at(types.StatusIndexed, "widened")
				drop = append(drop, n.Key())
			}
		}
		if n.Active && n.ForceNext {
			rw.at(types.StatusIndexed, "forced")
		}
		merged = append(merged, n)
	}
	for _, o := range old {
		if !slices.ContainsFunc(next, o.SameTarget) {
			if o.Active {
				rw.at(types.StatusSchematized, "removed")
			}
			drop = append(drop, o.Key())
		}
	}
	return merged, rw.to, drop
}

func sameSelection(a, b []string) bool {
	a, b = slices.Clone(a), slices.Clone(b)
	slices.Sort(a)
	slices.Sort(b)
	return slices.Equal(a, b)
}

// narrows reports whether selection next keeps a strict subset of what prev kept. An empty
// selection keeps everything.
func narrows(prev, next []string) bool {
	if len(next) == 0 {
		return false
	}
	if len(prev) == 0 {
		return true
	}
	for _, n := range next {
		if !slices.Contains(prev, n) {
			return false
		}
	}
	return true
}

// resetClaim returns the column updates that put a dataset in a stable status.
func resetClaim(to types.Status) map[string]interface{} {
	return map[string]interface{}{
		"status":         to,
		"claimed_from":   "",
		"claimed_at":     nil,
		"claim_attempts": 0,
		"error_message":  "",
	}
}

func (s *datasetService) journalRewound(ctx context.Context, id string, from, to types.Status, reason string) {
	data := map[string]any{"from": from, "to": to}
	if err := s.notifier.Journal(ctx, id, types.EventStatusRewound, reason, data); err != nil {
		s.log.Warn("journal append failed", "dataset_id", id, "error", err)
	}
}

// Delete removes the dataset and everything derived from it.
func (s *datasetService) Delete(ctx context.Context, id string) error {
	ds, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	alias := types.AliasName(s.cfg.IndexPrefix, id)
	targets, err := s.engine.AliasTargets(ctx, alias)
	if err != nil {
		s.log.Warn("read alias failed", "dataset_id", id, "error", err)
	} else if len(targets) > 0 {
		if err := s.engine.DeleteIndex(ctx, targets...); err != nil && !errors.Is(err, search.ErrIndexNotFound) {
			s.log.Warn("delete indices failed", "dataset_id", id, "indices", targets, "error", err)
		}
	}
	for _, cat := range []gcp.BucketCategory{gcp.BucketCategoryDatasets, gcp.BucketCategoryAttachments} {
		if err := s.bucket.DeletePrefix(ctx, cat, types.BlobPrefix(id)); err != nil {
			s.log.Warn("delete blobs failed", "dataset_id", id, "category", cat, "error", err)
		}
	}
	err = s.db.WithContext(ctx).Transaction(func(txx *gorm.DB) error {
		dbc := dbctx.Context{Ctx: ctx, Tx: txx}
		if err := s.rows.DeleteByDataset(dbc, id); err != nil {
			return err
		}
		if err := s.revisions.DeleteByDataset(dbc, id); err != nil {
			return err
		}
		if err := s.journal.DeleteByDataset(dbc, id); err != nil {
			return err
		}
		if err := s.results.DeleteByDataset(dbc, id); err != nil {
			return err
		}
		return s.datasets.Delete(dbc, id)
	})
	if err != nil {
		return fmt.Errorf("delete dataset %s: %w", id, err)
	}
	if err := s.cache.Invalidate(ctx, id); err != nil {
		s.log.Warn("cache invalidation failed", "dataset_id", id, "error", err)
	}
	if err := s.storage.RefreshOwner(ctx, ds.Owner()); err != nil {
		s.log.Warn("owner storage refresh failed", "dataset_id", id, "error", err)
	}
	s.log.Info("Dataset deleted", "dataset_id", id)
	return nil
}

func (s *datasetService) AdvanceStatus(ctx context.Context, id string, from, to types.Status) error {
	if !from.Valid() {
		return apierr.Validation("unknown status %q", from)
	}
	if !to.Valid() || to.Working() {
		return apierr.Validation("cannot move a dataset to %q", to)
	}
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	ok, err := s.datasets.UpdateFieldsIfStatus(dbctx.With(ctx), id, []types.Status{from}, resetClaim(to))
	if err != nil {
		return err
	}
	if !ok {
		return apierr.Conflict("dataset %s is not in status %s", id, from)
	}
	s.journalRewound(ctx, id, from, to, "status forced")
	return nil
}

func (s *datasetService) ForceReindex(ctx context.Context, id string) error {
	ds, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if ds.Status.Working() {
		return apierr.Conflict("dataset %s is being processed (%s)", id, ds.Status)
	}
	return s.AdvanceStatus(ctx, id, ds.Status, ds.StartStatus())
}

func (s *datasetService) ForceRefinalize(ctx context.Context, id string) error {
	ds, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if !ds.Status.Stable() {
		return apierr.Conflict("dataset %s is being processed (%s)", id, ds.Status)
	}
	return s.AdvanceStatus(ctx, id, ds.Status, types.StatusExtended)
}
