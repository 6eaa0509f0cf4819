package vfunction

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/dokzlo13/zhmcctl/internal/hmc"
	"github.com/dokzlo13/zhmcctl/internal/props"
	"github.com/dokzlo13/zhmcctl/internal/reconcile"
)

// Client is the part of the HMC client the reconciler needs.
type Client interface {
	FindCPC(ctx context.Context, name string) (*hmc.CPC, error)
	FindPartition(ctx context.Context, cpc *hmc.CPC, name string) (*hmc.Partition, error)
	FindAdapter(ctx context.Context, cpc *hmc.CPC, name string) (*hmc.Adapter, error)
	FindVirtualFunction(ctx context.Context, p *hmc.Partition, name string) (*hmc.VirtualFunction, error)
	CreateVirtualFunction(ctx context.Context, p *hmc.Partition, props map[string]any) (*hmc.VirtualFunction, error)
	UpdateProperties(ctx context.Context, r *hmc.Resource, props map[string]any) error
	PullProperties(ctx context.Context, r *hmc.Resource) error
	Delete(ctx context.Context, r *hmc.Resource) error
	WaitForTransitionCompletion(ctx context.Context, p *hmc.Partition) error
}

// Params are the parameters of one reconciliation.
type Params struct {
	CPCName       string
	PartitionName string
	Name          string
	State         reconcile.State
	// Properties are keyed by underscore names.
	Properties map[string]any
	// CheckMode suppresses all mutating calls.
	CheckMode bool
}

// Validate checks the parameters that do not depend on the HMC.
func (p Params) Validate() error {
	if p.CPCName == "" {
		return fmt.Errorf("cpc name is required")
	}
	if p.PartitionName == "" {
		return fmt.Errorf("partition name is required")
	}
	if p.Name == "" {
		return fmt.Errorf("virtual function name is required")
	}
	_, err := reconcile.ParseState(string(p.State))
	return err
}

// Reconciler makes a virtual function match its desired state.
type Reconciler struct {
	client Client
	table  *props.Table
	log    zerolog.Logger
}

// New creates a Reconciler.
func New(client Client, logger zerolog.Logger) *Reconciler {
	return &Reconciler{
		client: client,
		table:  Properties,
		log:    logger.With().Str("module", "vfunction").Logger(),
	}
}

// Run dispatches on p.State.
func (r *Reconciler) Run(ctx context.Context, p Params) (*reconcile.Result, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if p.State == reconcile.StateAbsent {
		return r.EnsureAbsent(ctx, p)
	}
	return r.EnsurePresent(ctx, p)
}

// EnsurePresent makes sure the virtual function exists and has the desired
// properties.
func (r *Reconciler) EnsurePresent(ctx context.Context, p Params) (*reconcile.Result, error) {
	cpc, err := r.client.FindCPC(ctx, p.CPCName)
	if err != nil {
		return nil, err
	}

	partition, err := r.client.FindPartition(ctx, cpc, p.PartitionName)
	if err != nil {
		if hmc.IsNotFound(err) && p.CheckMode {
			// Creating the partition would require creating the virtual function too.
			r.log.Debug().Str("partition", p.PartitionName).Msg("Partition does not exist, virtual function would be created")
			return &reconcile.Result{Changed: true, Properties: map[string]any{}}, nil
		}
		return nil, err
	}

	vf, err := r.client.FindVirtualFunction(ctx, partition, p.Name)
	if err != nil {
		if !hmc.IsNotFound(err) {
			return nil, err
		}
		return r.create(ctx, partition, p)
	}
	return r.update(ctx, partition, vf, p)
}

// EnsureAbsent makes sure the virtual function does not exist.
func (r *Reconciler) EnsureAbsent(ctx context.Context, p Params) (*reconcile.Result, error) {
	cpc, err := r.client.FindCPC(ctx, p.CPCName)
	if err != nil {
		return nil, err
	}
	partition, err := r.client.FindPartition(ctx, cpc, p.PartitionName)
	if err != nil {
		return nil, err
	}

	vf, err := r.client.FindVirtualFunction(ctx, partition, p.Name)
	if hmc.IsNotFound(err) {
		return &reconcile.Result{Changed: false, Properties: map[string]any{}}, nil
	}
	if err != nil {
		return nil, err
	}

	if !p.CheckMode {
		if err := r.client.Delete(ctx, &vf.Resource); err != nil {
			return nil, fmt.Errorf("delete virtual function %q: %w", p.Name, err)
		}
		r.log.Info().Str("partition", partition.Name).Str("name", p.Name).Msg("Deleted virtual function")
	}
	return &reconcile.Result{Changed: true, Properties: map[string]any{}}, nil
}

func (r *Reconciler) create(ctx context.Context, partition *hmc.Partition, p Params) (*reconcile.Result, error) {
	// The properties are processed in check mode too, so that parameter
	// errors and unknown adapters are reported without creating anything.
	res, err := props.Process(ctx, r.table, r.input(partition, p, nil))
	if err != nil {
		return nil, err
	}
	if p.CheckMode {
		return &reconcile.Result{Changed: true, Properties: map[string]any{}}, nil
	}

	vf, err := r.client.CreateVirtualFunction(ctx, partition, res.Create)
	if err != nil {
		return nil, fmt.Errorf("create virtual function %q: %w", p.Name, err)
	}
	r.log.Info().Str("partition", partition.Name).Str("name", p.Name).Str("uri", vf.URI).Msg("Created virtual function")

	if update := res.UpdateOnly(); len(update) > 0 {
		if err := r.client.UpdateProperties(ctx, &vf.Resource, update); err != nil {
			return nil, fmt.Errorf("update new virtual function %q: %w", p.Name, err)
		}
	}

	// Some values are normalized by the HMC.
	if err := r.client.PullProperties(ctx, &vf.Resource); err != nil {
		return nil, err
	}
	return &reconcile.Result{Changed: true, Properties: vf.Properties}, nil
}

func (r *Reconciler) update(ctx context.Context, partition *hmc.Partition, vf *hmc.VirtualFunction, p Params) (*reconcile.Result, error) {
	res, err := props.Process(ctx, r.table, r.input(partition, p, vf.Properties))
	if err != nil {
		return nil, err
	}
	if len(res.Update) == 0 {
		r.log.Debug().Str("partition", partition.Name).Str("name", p.Name).Msg("Virtual function is up to date")
		return &reconcile.Result{Changed: false, Properties: vf.Properties}, nil
	}
	if res.Stop {
		panic(fmt.Sprintf("programmer error: update of virtual function %q requires the partition to be stopped: %v",
			p.Name, res.Update))
	}

	if !p.CheckMode {
		if err := r.client.WaitForTransitionCompletion(ctx, partition); err != nil {
			return nil, err
		}
		if err := r.client.UpdateProperties(ctx, &vf.Resource, res.Update); err != nil {
			return nil, fmt.Errorf("update virtual function %q: %w", p.Name, err)
		}
		if err := r.client.PullProperties(ctx, &vf.Resource); err != nil {
			return nil, err
		}
		r.log.Info().Str("partition", partition.Name).Str("name", p.Name).
			Interface("properties", res.Update).Msg("Updated virtual function")
	}
	return &reconcile.Result{Changed: true, Properties: vf.Properties}, nil
}

func (r *Reconciler) input(partition *hmc.Partition, p Params, current map[string]any) props.Input {
	return props.Input{
		Name:    p.Name,
		Desired: p.Properties,
		Current: current,
		Resolvers: map[string]props.Resolver{
			"adapter_name": r.adapterResolver(partition),
		},
	}
}

// adapterResolver resolves an adapter name within the CPC of the partition.
func (r *Reconciler) adapterResolver(partition *hmc.Partition) props.Resolver {
	return func(ctx context.Context, value any) (any, error) {
		name, _ := value.(string)
		adapter, err := r.client.FindAdapter(ctx, partition.CPC, name)
		if hmc.IsNotFound(err) {
			return nil, fmt.Errorf("%w: %w", props.ErrNotResolved, err)
		}
		if err != nil {
			return nil, err
		}
		return adapter.URI, nil
	}
}
