package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dokzlo13/zhmcctl/internal/config"
	"github.com/dokzlo13/zhmcctl/internal/output"
	"github.com/dokzlo13/zhmcctl/internal/reconcile"
	"github.com/dokzlo13/zhmcctl/internal/reconcile/vfunction"
)

type vfunctionOptions struct {
	task           string
	cpc            string
	partition      string
	name           string
	state          string
	properties     []string
	propertiesFile string
	check          bool
}

func newVFunctionCmd(g *globalOptions) *cobra.Command {
	o := &vfunctionOptions{}

	cmd := &cobra.Command{
		Use:   "vfunction",
		Short: "Create, update or delete a virtual function of a partition",
		Long: `Make a virtual function of a DPM partition match the desired state.

With --state present the virtual function is created if needed and its
properties are updated to the desired values. With --state absent it is
deleted if it exists. --check reports whether something would change without
changing it.

Parameters can be given in a task file (--task) and overridden by flags.`,
		Example: `  zhmcctl vfunction --cpc CPC1 --partition part1 --name vf1 --state present \
    -p description=accel -p device_number=033F -p adapter_name=ABC-123`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			params, err := o.params(cmd)
			if err != nil {
				return fail(cmd, output.ParameterError(err))
			}

			a, cleanup, err := g.newApp()
			if err != nil {
				return fail(cmd, err)
			}
			defer cleanup()

			res, err := a.VirtualFunction(cmd.Context(), params)
			if err != nil {
				return fail(cmd, err)
			}
			return output.WriteJSON(cmd.OutOrStdout(), output.VirtualFunctionResult{
				Changed:         res.Changed,
				VirtualFunction: res.Properties,
			})
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&o.task, "task", "", "YAML task file with cpc_name, partition_name, name, state, properties and check_mode")
	flags.StringVar(&o.cpc, "cpc", "", "Name of the CPC")
	flags.StringVar(&o.partition, "partition", "", "Name of the partition")
	flags.StringVar(&o.name, "name", "", "Name of the virtual function")
	flags.StringVar(&o.state, "state", "", "Desired state: present or absent")
	flags.StringArrayVarP(&o.properties, "property", "p", nil, "Desired property as key=value (repeatable)")
	flags.StringVar(&o.propertiesFile, "properties-file", "", "YAML file with the desired properties")
	flags.BoolVar(&o.check, "check", false, "Report what would change without changing it")

	return cmd
}

// params merges the task file, the properties file and the flags, in this
// order of precedence from lowest to highest.
func (o *vfunctionOptions) params(cmd *cobra.Command) (vfunction.Params, error) {
	task := &config.Task{}
	if o.task != "" {
		var err error
		task, err = config.LoadTask(o.task)
		if err != nil {
			return vfunction.Params{}, err
		}
	}

	flags := cmd.Flags()
	if flags.Changed("cpc") {
		task.CPCName = o.cpc
	}
	if flags.Changed("partition") {
		task.PartitionName = o.partition
	}
	if flags.Changed("name") {
		task.Name = o.name
	}
	if flags.Changed("state") {
		task.State = o.state
	}
	if flags.Changed("check") {
		task.CheckMode = o.check
	}

	props := map[string]any{}
	for k, v := range task.Properties {
		props[k] = v
	}
	if o.propertiesFile != "" {
		fileProps, err := config.LoadProperties(o.propertiesFile)
		if err != nil {
			return vfunction.Params{}, err
		}
		for k, v := range fileProps {
			props[k] = v
		}
	}
	flagProps, err := parseProperties(o.properties)
	if err != nil {
		return vfunction.Params{}, err
	}
	for k, v := range flagProps {
		props[k] = v
	}

	state, err := reconcile.ParseState(task.State)
	if err != nil {
		return vfunction.Params{}, err
	}
	params := vfunction.Params{
		CPCName:       task.CPCName,
		PartitionName: task.PartitionName,
		Name:          task.Name,
		State:         state,
		Properties:    props,
		CheckMode:     task.CheckMode,
	}
	return params, params.Validate()
}

// parseProperties parses key=value pairs. Values are strings, typed values
// go into a properties file.
func parseProperties(pairs []string) (map[string]any, error) {
	props := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid property %q: expected key=value", pair)
		}
		props[key] = value
	}
	return props, nil
}
