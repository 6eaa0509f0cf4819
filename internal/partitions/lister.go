// Package partitions lists the partitions of the CPCs managed by an HMC,
// reduced to the properties needed for an inventory.
package partitions

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/hashicorp/go-version"
	"github.com/rs/zerolog"

	"github.com/dokzlo13/zhmcctl/internal/hmc"
)

// permittedSince is the first HMC version with the List Permitted Partitions
// operation. It depends on the HMC version only, not on the SE version.
var permittedSince = version.Must(version.NewVersion("2.14.0"))

// Client is the part of the HMC client the lister needs.
type Client interface {
	QueryAPIVersion(ctx context.Context) (*hmc.APIVersion, error)
	ListCPCs(ctx context.Context) ([]*hmc.CPC, error)
	FindCPC(ctx context.Context, name string) (*hmc.CPC, error)
	ListPartitions(ctx context.Context, cpc *hmc.CPC) ([]*hmc.Partition, error)
	ListPermittedPartitions(ctx context.Context, cpcName string) ([]*hmc.Partition, error)
	GetProperty(ctx context.Context, r *hmc.Resource, name string) (any, error)
}

// Info is the listed projection of a partition.
type Info struct {
	Name                  string `json:"name"`
	CPCName               string `json:"cpc_name"`
	SEVersion             string `json:"se_version"`
	Status                string `json:"status"`
	HasUnacceptableStatus bool   `json:"has_unacceptable_status"`
}

// Lister lists partitions.
type Lister struct {
	client Client
	log    zerolog.Logger
}

// New creates a Lister.
func New(client Client, logger zerolog.Logger) *Lister {
	return &Lister{
		client: client,
		log:    logger.With().Str("module", "partitions").Logger(),
	}
}

// List returns the partitions of the named CPC, or of all managed CPCs when
// cpcName is empty.
func (l *Lister) List(ctx context.Context, cpcName string) ([]Info, error) {
	apiVersion, err := l.client.QueryAPIVersion(ctx)
	if err != nil {
		return nil, fmt.Errorf("query HMC version: %w", err)
	}
	hmcVersion, err := version.NewVersion(apiVersion.HMCVersion)
	if err != nil {
		return nil, fmt.Errorf("parse HMC version %q: %w", apiVersion.HMCVersion, err)
	}

	var partitions []*hmc.Partition
	if hmcVersion.LessThan(permittedSince) {
		partitions, err = l.listLegacy(ctx, cpcName)
	} else {
		l.log.Debug().Str("cpc", cpcName).Str("hmc_version", hmcVersion.String()).Msg("Listing permitted partitions")
		partitions, err = l.client.ListPermittedPartitions(ctx, cpcName)
	}
	if err != nil {
		return nil, err
	}

	return l.project(ctx, partitions)
}

func (l *Lister) listLegacy(ctx context.Context, cpcName string) ([]*hmc.Partition, error) {
	if cpcName != "" {
		l.log.Debug().Str("cpc", cpcName).Msg("Listing partitions of CPC")
		cpc, err := l.client.FindCPC(ctx, cpcName)
		if err != nil {
			return nil, err
		}
		return l.client.ListPartitions(ctx, cpc)
	}

	l.log.Debug().Msg("Listing partitions of all managed CPCs")
	cpcs, err := l.client.ListCPCs(ctx)
	if err != nil {
		return nil, err
	}

	var partitions []*hmc.Partition
	for _, cpc := range cpcs {
		dpm, err := l.client.GetProperty(ctx, &cpc.Resource, "dpm-enabled")
		if err != nil {
			return nil, err
		}
		if enabled, _ := dpm.(bool); !enabled {
			l.log.Debug().Str("cpc", cpc.Name).Msg("Skipping CPC not in DPM mode")
			continue
		}

		list, err := l.client.ListPartitions(ctx, cpc)
		var herr *hmc.HTTPError
		if errors.As(err, &herr) && herr.Status == http.StatusForbidden {
			l.log.Debug().Str("cpc", cpc.Name).Msg("Skipping CPC, partitions not permitted")
			continue
		}
		if err != nil {
			return nil, err
		}
		partitions = append(partitions, list...)
	}
	return partitions, nil
}

func (l *Lister) project(ctx context.Context, partitions []*hmc.Partition) ([]Info, error) {
	seVersions := map[string]string{}
	infos := make([]Info, 0, len(partitions))

	for _, p := range partitions {
		cpc := p.CPC
		seVersion, ok := seVersions[cpc.Name]
		if !ok {
			// se-version is part of List Permitted Partitions since 2.14.1.
			if v, found := p.Properties["se-version"]; found {
				seVersion, _ = v.(string)
			} else {
				v, err := l.client.GetProperty(ctx, &cpc.Resource, "se-version")
				if err != nil {
					return nil, err
				}
				seVersion, _ = v.(string)
			}
			seVersions[cpc.Name] = seVersion
		}

		status, err := l.client.GetProperty(ctx, &p.Resource, "status")
		if err != nil {
			return nil, err
		}
		unacceptable, err := l.client.GetProperty(ctx, &p.Resource, "has-unacceptable-status")
		if err != nil {
			return nil, err
		}

		info := Info{
			Name:      p.Name,
			CPCName:   cpc.Name,
			SEVersion: seVersion,
		}
		info.Status, _ = status.(string)
		info.HasUnacceptableStatus, _ = unacceptable.(bool)
		infos = append(infos, info)
	}
	return infos, nil
}
