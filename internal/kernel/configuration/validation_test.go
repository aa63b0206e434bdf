package configuration

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"k8s.io/apimachinery/pkg/api/resource"
)

func validConfig() KernelConfiguration {
	return KernelConfiguration{
		Mode:        ModeTorque,
		Interpreter: "regent",
		ScratchRoot: "/var/jupyterhub/launches",
		ResourceManager: ResourceManagerConfiguration{
			SubmitCommand: "qsub",
			StatusCommand: "qstat",
			CancelCommand: "qdel",
		},
		Resources: ResourceConfiguration{NodeCount: 4, CpuCount: 16, GpuCount: 4, CacheSizeMB: 16384},
		Polling: PollingConfiguration{
			BaseDelay:       250 * time.Millisecond,
			MaxDelay:        10 * time.Second,
			MaxQueryRetries: 5,
		},
		Collection: CollectionConfiguration{MaxOutputSize: resource.MustParse("1Mi")},
		Workspace:  WorkspaceConfiguration{Retention: RetainOnFailure},
		Repository: RepositoryConfiguration{Type: RepositoryMemory},
	}
}

func TestValidateKernelConfiguration(t *testing.T) {
	tests := map[string]struct {
		mutate func(c *KernelConfiguration)
		valid  bool
	}{
		"valid": {
			mutate: func(c *KernelConfiguration) {},
			valid:  true,
		},
		"unknown mode": {
			mutate: func(c *KernelConfiguration) { c.Mode = "slurm" },
		},
		"missing interpreter": {
			mutate: func(c *KernelConfiguration) { c.Interpreter = "" },
		},
		"zero nodes": {
			mutate: func(c *KernelConfiguration) { c.Resources.NodeCount = 0 },
		},
		"negative gpus": {
			mutate: func(c *KernelConfiguration) { c.Resources.GpuCount = -1 },
		},
		"zero base delay": {
			mutate: func(c *KernelConfiguration) { c.Polling.BaseDelay = 0 },
		},
		"cap below base": {
			mutate: func(c *KernelConfiguration) { c.Polling.MaxDelay = 100 * time.Millisecond },
		},
		"zero output size": {
			mutate: func(c *KernelConfiguration) { c.Collection.MaxOutputSize = resource.Quantity{} },
		},
		"profiling without tool": {
			mutate: func(c *KernelConfiguration) { c.Profiling.Enabled = true },
		},
		"sqlite without path": {
			mutate: func(c *KernelConfiguration) { c.Repository.Type = RepositorySQLite },
		},
		"unknown retention": {
			mutate: func(c *KernelConfiguration) { c.Workspace.Retention = "sometimes" },
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			config := validConfig()
			tc.mutate(&config)
			err := ValidateKernelConfiguration(config)
			if tc.valid {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}
