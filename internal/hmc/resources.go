package hmc

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
)

// Resource is the common part of every HMC object. Properties holds what has
// been retrieved so far; PullProperties replaces it with the full set.
type Resource struct {
	Kind       string
	URI        string
	Name       string
	Properties map[string]any

	full bool
}

func newResource(kind string, props map[string]any) Resource {
	r := Resource{Kind: kind, Properties: props}
	if uri, ok := props["object-uri"].(string); ok {
		r.URI = uri
	} else if uri, ok := props["element-uri"].(string); ok {
		r.URI = uri
	}
	if name, ok := props["name"].(string); ok {
		r.Name = name
	}
	return r
}

// CPC is a Central Processor Complex.
type CPC struct {
	Resource
}

// Partition is a DPM partition of a CPC.
type Partition struct {
	Resource
	CPC *CPC
}

// Adapter is an adapter of a CPC.
type Adapter struct {
	Resource
	CPC *CPC
}

// VirtualFunction is a virtual function element of a partition.
type VirtualFunction struct {
	Resource
	Partition *Partition
}

// PullProperties retrieves the full property set of r.
func (c *Client) PullProperties(ctx context.Context, r *Resource) error {
	props := map[string]any{}
	if err := c.do(ctx, http.MethodGet, r.URI, nil, &props); err != nil {
		return err
	}
	r.Properties = props
	r.full = true
	if name, ok := props["name"].(string); ok {
		r.Name = name
	}
	return nil
}

// GetProperty returns a property, pulling the full property set if the
// property has not been retrieved yet.
func (c *Client) GetProperty(ctx context.Context, r *Resource, name string) (any, error) {
	if v, ok := r.Properties[name]; ok {
		return v, nil
	}
	if !r.full {
		if err := c.PullProperties(ctx, r); err != nil {
			return nil, err
		}
		if v, ok := r.Properties[name]; ok {
			return v, nil
		}
	}
	return nil, fmt.Errorf("%s %q has no property %q", r.Kind, r.Name, name)
}

// UpdateProperties sets properties of r and merges them into the local copy.
func (c *Client) UpdateProperties(ctx context.Context, r *Resource, props map[string]any) error {
	if err := c.do(ctx, http.MethodPost, r.URI, props, nil); err != nil {
		return err
	}
	if r.Properties == nil {
		r.Properties = map[string]any{}
	}
	for k, v := range props {
		r.Properties[k] = v
	}
	return nil
}

// Delete deletes r.
func (c *Client) Delete(ctx context.Context, r *Resource) error {
	return c.do(ctx, http.MethodDelete, r.URI, nil, nil)
}

// ListCPCs lists the CPCs managed by the HMC.
func (c *Client) ListCPCs(ctx context.Context) ([]*CPC, error) {
	items, err := c.list(ctx, "/api/cpcs", "cpcs", "")
	if err != nil {
		return nil, err
	}
	cpcs := make([]*CPC, 0, len(items))
	for _, props := range items {
		cpcs = append(cpcs, &CPC{Resource: newResource("CPC", props)})
	}
	return cpcs, nil
}

// FindCPC finds a managed CPC by name.
func (c *Client) FindCPC(ctx context.Context, name string) (*CPC, error) {
	items, err := c.list(ctx, "/api/cpcs", "cpcs", name)
	if err != nil {
		return nil, err
	}
	props, err := unique(items, "CPC", name, "")
	if err != nil {
		return nil, err
	}
	return &CPC{Resource: newResource("CPC", props)}, nil
}

// ListPartitions lists the partitions of a CPC.
func (c *Client) ListPartitions(ctx context.Context, cpc *CPC) ([]*Partition, error) {
	items, err := c.list(ctx, cpc.URI+"/partitions", "partitions", "")
	if err != nil {
		return nil, err
	}
	partitions := make([]*Partition, 0, len(items))
	for _, props := range items {
		partitions = append(partitions, &Partition{Resource: newResource("Partition", props), CPC: cpc})
	}
	return partitions, nil
}

// FindPartition finds a partition of a CPC by name.
func (c *Client) FindPartition(ctx context.Context, cpc *CPC, name string) (*Partition, error) {
	items, err := c.list(ctx, cpc.URI+"/partitions", "partitions", name)
	if err != nil {
		return nil, err
	}
	props, err := unique(items, "Partition", name, "CPC "+cpc.Name)
	if err != nil {
		return nil, err
	}
	return &Partition{Resource: newResource("Partition", props), CPC: cpc}, nil
}

// FindAdapter finds an adapter of a CPC by name.
func (c *Client) FindAdapter(ctx context.Context, cpc *CPC, name string) (*Adapter, error) {
	items, err := c.list(ctx, cpc.URI+"/adapters", "adapters", name)
	if err != nil {
		return nil, err
	}
	props, err := unique(items, "Adapter", name, "CPC "+cpc.Name)
	if err != nil {
		return nil, err
	}
	return &Adapter{Resource: newResource("Adapter", props), CPC: cpc}, nil
}

// FindVirtualFunction finds a virtual function of a partition by name. The
// API has no list operation for virtual functions, so the elements listed in
// the partition's virtual-function-uris property are retrieved one by one.
// The returned virtual function has its full properties.
func (c *Client) FindVirtualFunction(ctx context.Context, p *Partition, name string) (*VirtualFunction, error) {
	if err := c.PullProperties(ctx, &p.Resource); err != nil {
		return nil, err
	}
	uris, _ := p.Properties["virtual-function-uris"].([]any)

	var found []*VirtualFunction
	for _, u := range uris {
		uri, ok := u.(string)
		if !ok {
			continue
		}
		vf := &VirtualFunction{Resource: Resource{Kind: "Virtual Function", URI: uri}, Partition: p}
		if err := c.PullProperties(ctx, &vf.Resource); err != nil {
			return nil, err
		}
		if vf.Name == name {
			found = append(found, vf)
		}
	}

	switch len(found) {
	case 0:
		return nil, &NotFoundError{Kind: "Virtual Function", Name: name, Parent: "partition " + p.Name}
	case 1:
		return found[0], nil
	default:
		uris := make([]string, 0, len(found))
		for _, vf := range found {
			uris = append(uris, vf.URI)
		}
		return nil, &NoUniqueMatchError{Kind: "Virtual Function", Name: name, URIs: uris}
	}
}

// CreateVirtualFunction creates a virtual function in a partition. Only the
// given properties and the element URI are known locally afterwards.
func (c *Client) CreateVirtualFunction(ctx context.Context, p *Partition, props map[string]any) (*VirtualFunction, error) {
	var created struct {
		ElementURI string `json:"element-uri"`
	}
	if err := c.do(ctx, http.MethodPost, p.URI+"/virtual-functions", props, &created); err != nil {
		return nil, err
	}

	local := make(map[string]any, len(props)+1)
	for k, v := range props {
		local[k] = v
	}
	local["element-uri"] = created.ElementURI

	vf := &VirtualFunction{Resource: newResource("Virtual Function", local), Partition: p}
	if uris, ok := p.Properties["virtual-function-uris"].([]any); ok {
		p.Properties["virtual-function-uris"] = append(uris, created.ElementURI)
	}
	return vf, nil
}

func (c *Client) list(ctx context.Context, uri, key, name string) ([]map[string]any, error) {
	if name != "" {
		uri += "?name=" + url.QueryEscape("^"+regexp.QuoteMeta(name)+"$")
	}
	var body map[string][]map[string]any
	if err := c.do(ctx, http.MethodGet, uri, nil, &body); err != nil {
		return nil, err
	}
	return body[key], nil
}

// unique picks the single exact name match. The server side name filter is a
// regular expression, so matches are checked again here.
func unique(items []map[string]any, kind, name, parent string) (map[string]any, error) {
	var matches []map[string]any
	for _, props := range items {
		if n, _ := props["name"].(string); n == name {
			matches = append(matches, props)
		}
	}
	switch len(matches) {
	case 0:
		return nil, &NotFoundError{Kind: kind, Name: name, Parent: parent}
	case 1:
		return matches[0], nil
	default:
		uris := make([]string, 0, len(matches))
		for _, m := range matches {
			uri, _ := m["object-uri"].(string)
			uris = append(uris, uri)
		}
		return nil, &NoUniqueMatchError{Kind: kind, Name: name, URIs: uris}
	}
}
