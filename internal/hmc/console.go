package hmc

import (
	"context"
	"net/http"
	"net/url"
	"time"
)

// APIVersion is the result of the Query API Version operation.
type APIVersion struct {
	APIMajorVersion int    `json:"api-major-version"`
	APIMinorVersion int    `json:"api-minor-version"`
	HMCVersion      string `json:"hmc-version"`
	HMCName         string `json:"hmc-name"`
}

// QueryAPIVersion returns the HMC and API version of the HMC.
func (c *Client) QueryAPIVersion(ctx context.Context) (*APIVersion, error) {
	var v APIVersion
	if err := c.do(ctx, http.MethodGet, "/api/version", nil, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// ListPermittedPartitions runs the List Permitted Partitions operation
// (HMC 2.14.0 and later). A non-empty cpcName restricts the result to the
// partitions of that CPC. The parent CPC of each partition only has its name
// and URI set.
func (c *Client) ListPermittedPartitions(ctx context.Context, cpcName string) ([]*Partition, error) {
	uri := "/api/console/operations/list-permitted-partitions"
	if cpcName != "" {
		uri += "?cpc-name=" + url.QueryEscape(cpcName)
	}

	var body struct {
		Partitions []map[string]any `json:"partitions"`
	}
	if err := c.do(ctx, http.MethodGet, uri, nil, &body); err != nil {
		return nil, err
	}

	cpcs := map[string]*CPC{}
	partitions := make([]*Partition, 0, len(body.Partitions))
	for _, props := range body.Partitions {
		cpcURI, _ := props["cpc-object-uri"].(string)
		cpc, ok := cpcs[cpcURI]
		if !ok {
			name, _ := props["cpc-name"].(string)
			cpc = &CPC{Resource: Resource{
				Kind:       "CPC",
				URI:        cpcURI,
				Name:       name,
				Properties: map[string]any{"object-uri": cpcURI, "name": name},
			}}
			cpcs[cpcURI] = cpc
		}
		partitions = append(partitions, &Partition{Resource: newResource("Partition", props), CPC: cpc})
	}
	return partitions, nil
}

// transitionalStatuses are the partition statuses during which the
// properties of the partition elements cannot be updated.
var transitionalStatuses = map[string]bool{
	"starting": true,
	"stopping": true,
}

// WaitForTransitionCompletion waits until the partition has left a
// starting or stopping status. It returns a StatusError if the partition is
// still transitioning after the configured status timeout.
func (c *Client) WaitForTransitionCompletion(ctx context.Context, p *Partition) error {
	deadline := time.Now().Add(c.statusWait)
	for {
		if err := c.PullProperties(ctx, &p.Resource); err != nil {
			return err
		}
		status, _ := p.Properties["status"].(string)
		if !transitionalStatuses[status] {
			return nil
		}
		if time.Now().After(deadline) {
			return &StatusError{Partition: p.Name, Status: status, Timeout: c.statusWait}
		}

		c.log.Debug().Str("partition", p.Name).Str("status", status).Msg("Waiting for partition transition")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.statusPoll):
		}
	}
}
