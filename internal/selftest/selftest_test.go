//
// Copyright 2024 The Akuma Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//

package selftest

import (
	"testing"

	"github.com/netoneko/akuma/internal/config"
	"github.com/netoneko/akuma/internal/kernel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bootTestKernel(t *testing.T) *kernel.Kernel {
	cfg := config.DefaultBootConfig()
	cfg.RAMSizeMiB = 8
	k, err := kernel.Boot(cfg)
	require.NoError(t, err)
	return k
}

func TestRunExecutesEveryScenarioAndAllPass(t *testing.T) {
	k := bootTestKernel(t)

	results := Run(k)
	require.Len(t, results, 6)

	names := make([]string, 0, len(results))
	for _, r := range results {
		names = append(names, r.Name)
		assert.NoError(t, r.Err, "scenario %s failed", r.Name)
	}
	assert.ElementsMatch(t, []string{
		"boot-to-idle",
		"spawn-and-wait",
		"blind-root-redirection",
		"procfs-stdio-visibility",
		"linux-abi-bridging",
		"loopback-network",
	}, names)

	assert.True(t, AllPassed(results))
}

func TestAllPassedReportsFalseOnAnyFailure(t *testing.T) {
	results := []Scenario{
		{Name: "a", Err: nil},
		{Name: "b", Err: assert.AnError},
	}
	assert.False(t, AllPassed(results))
}
