// Package vfunction reconciles the virtual functions of DPM partitions.
package vfunction

import "github.com/dokzlo13/zhmcctl/internal/props"

// Properties is the property table of virtual functions. All updatable
// properties can be updated while the partition is active.
var Properties = &props.Table{
	Resource: "virtual functions",
	Properties: map[string]props.Descriptor{
		// Set from the name parameter, not from the properties.
		"name":          {Create: true, Update: true, UpdateWhileActive: true},
		"description":   {Allowed: true, Create: true, Update: true, UpdateWhileActive: true, Cast: props.ToString},
		"device_number": {Allowed: true, Create: true, Update: true, UpdateWhileActive: true, Equal: props.EqualHex},
		// Set through adapter_name.
		"adapter_uri":  {Create: true, Update: true, UpdateWhileActive: true},
		"adapter_name": {Allowed: true, Create: true, Update: true, UpdateWhileActive: true, Cast: props.ToString},

		"element_uri": props.ReadOnly(),
		"element_id":  props.ReadOnly(),
		"parent":      props.ReadOnly(),
		"class":       props.ReadOnly(),
	},
	Artificial: []props.Artificial{
		{Name: "adapter_name", Target: "adapter-uri"},
	},
}

func init() {
	if err := Properties.Validate(); err != nil {
		panic(err)
	}
}
