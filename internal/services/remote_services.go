package services

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/yungbote/dataset-engine/internal/data/repos/datasets"
	types "github.com/yungbote/dataset-engine/internal/domain/datasets"
	"github.com/yungbote/dataset-engine/internal/platform/dbctx"
	"github.com/yungbote/dataset-engine/internal/platform/logger"
)

// RemoteServiceCatalog exposes the enrichment services extensions can call.
type RemoteServiceCatalog interface {
	Seed(ctx context.Context, r io.Reader) (int, error)
	SeedFile(ctx context.Context, path string) (int, error)
	Get(ctx context.Context, id string) (*types.RemoteService, error)
	All(ctx context.Context) (map[string]*types.RemoteService, error)
}

type remoteServiceCatalog struct {
	log  *logger.Logger
	repo datasets.RemoteServiceRepo
}

func NewRemoteServiceCatalog(repo datasets.RemoteServiceRepo, baseLog *logger.Logger) RemoteServiceCatalog {
	return &remoteServiceCatalog{log: baseLog.With("service", "RemoteServiceCatalog"), repo: repo}
}

type catalogFile struct {
	Services []*types.RemoteService `yaml:"services"`
}

// ParseRemoteServices reads a YAML catalogue. API key values go through os.ExpandEnv so
// secrets can stay in the environment.
func ParseRemoteServices(r io.Reader) ([]*types.RemoteService, error) {
	var f catalogFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && err != io.EOF {
		return nil, fmt.Errorf("decode remote services: %w", err)
	}
	seen := map[string]bool{}
	for i, svc := range f.Services {
		if svc == nil || strings.TrimSpace(svc.ID) == "" {
			return nil, fmt.Errorf("remote service #%d: id is required", i)
		}
		if seen[svc.ID] {
			return nil, fmt.Errorf("remote service %s: duplicate id", svc.ID)
		}
		seen[svc.ID] = true
		if strings.TrimSpace(svc.Server) == "" {
			return nil, fmt.Errorf("remote service %s: server is required", svc.ID)
		}
		svc.Server = strings.TrimRight(svc.Server, "/")
		svc.APIKeyValue = os.ExpandEnv(svc.APIKeyValue)
		for j, a := range svc.Actions {
			if a.ID == "" {
				return nil, fmt.Errorf("remote service %s: action #%d has no id", svc.ID, j)
			}
			if a.Method == "" {
				svc.Actions[j].Method = "POST"
			}
		}
	}
	return f.Services, nil
}

func (c *remoteServiceCatalog) Seed(ctx context.Context, r io.Reader) (int, error) {
	svcs, err := ParseRemoteServices(r)
	if err != nil {
		return 0, err
	}
	if err := c.repo.Upsert(dbctx.With(ctx), svcs); err != nil {
		return 0, fmt.Errorf("store remote services: %w", err)
	}
	c.log.Info("Remote services seeded", "count", len(svcs))
	return len(svcs), nil
}

func (c *remoteServiceCatalog) SeedFile(ctx context.Context, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return c.Seed(ctx, f)
}

func (c *remoteServiceCatalog) Get(ctx context.Context, id string) (*types.RemoteService, error) {
	return c.repo.GetByID(dbctx.With(ctx), id)
}

func (c *remoteServiceCatalog) All(ctx context.Context) (map[string]*types.RemoteService, error) {
	list, err := c.repo.List(dbctx.With(ctx))
	if err != nil {
		return nil, err
	}
	out := make(map[string]*types.RemoteService, len(list))
	for _, svc := range list {
		out[svc.ID] = svc
	}
	return out, nil
}
