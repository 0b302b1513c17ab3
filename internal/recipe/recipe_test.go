package recipe

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func baseInferenceRecipe() *Recipe {
	gpuPerReplica := 1
	r := &Recipe{
		Name:     "vllm-llama",
		Category: CategoryInference,
		Ports:    []int{8001},
		Environment: map[string]string{
			"VLLM_MODEL": "meta-llama/Llama-3-8b",
		},
		Resources:     Resources{Nodes: 1, CPU: 8, Memory: "64G", GPU: 4, TimeLimit: 120},
		GPUPerReplica: &gpuPerReplica,
		BasePort:      8001,
	}
	r.applyDefaults()
	return r
}

func TestRecipe_Validate(t *testing.T) {
	r := baseInferenceRecipe()
	require.NoError(t, r.Validate())

	bad := baseInferenceRecipe()
	bad.Category = "bogus"
	assert.Error(t, bad.Validate())

	storageFieldOnInference := baseInferenceRecipe()
	storageFieldOnInference.DeploymentConfig = &DeploymentConfig{Replicas: 1}
	assert.Error(t, storageFieldOnInference.Validate())
}

func TestRecipe_IsReplicaGroupAndReplicasPerNode(t *testing.T) {
	r := baseInferenceRecipe()
	assert.True(t, r.IsReplicaGroup())
	assert.Equal(t, 4, r.ReplicasPerNode())

	single := baseInferenceRecipe()
	single.GPUPerReplica = nil
	assert.False(t, single.IsReplicaGroup())
	assert.Equal(t, 1, single.ReplicasPerNode())
}

func TestRecipe_MergeConfig(t *testing.T) {
	r := baseInferenceRecipe()

	merged, err := r.MergeConfig(map[string]interface{}{
		"resources": map[string]interface{}{
			"gpu": 8,
		},
		"environment": map[string]interface{}{
			"EXTRA_FLAG": "1",
		},
		"model":         "meta-llama/Llama-3-70b",
		"max_model_len": 8192,
		"replica_port":  8005,
	})
	require.NoError(t, err)

	assert.Equal(t, 8, merged.Resources.GPU)
	assert.Equal(t, "meta-llama/Llama-3-70b", merged.Environment["VLLM_MODEL"])
	assert.Equal(t, "8192", merged.Environment["VLLM_MAX_MODEL_LEN"])
	assert.Equal(t, "8005", merged.Environment["VLLM_PORT"])
	assert.Equal(t, "1", merged.Environment["EXTRA_FLAG"])

	// Original recipe must be untouched (MergeConfig returns a copy).
	assert.Equal(t, 4, r.Resources.GPU)
	assert.NotContains(t, r.Environment, "EXTRA_FLAG")
}

func TestRecipe_MergeConfig_LegacyScalarOverrides(t *testing.T) {
	r := baseInferenceRecipe()

	merged, err := r.MergeConfig(map[string]interface{}{
		"gpu":   2,
		"nodes": 3,
	})
	require.NoError(t, err)

	assert.Equal(t, 2, merged.Resources.GPU)
	assert.Equal(t, 3, merged.Resources.Nodes)
}

func TestRecipe_MergeConfig_ResolvesParameterTemplates(t *testing.T) {
	r := baseInferenceRecipe()
	r.Environment["HF_HOME"] = "/cache/{{ cache_namespace }}"
	r.Parameters = map[string]Parameter{
		"cache_namespace": {Description: "HF cache subdirectory", Type: "string", Default: "shared", Location: "environment"},
	}

	merged, err := r.MergeConfig(map[string]interface{}{})
	require.NoError(t, err)
	assert.Equal(t, "/cache/shared", merged.Environment["HF_HOME"])

	overridden, err := r.MergeConfig(map[string]interface{}{"cache_namespace": "team-a"})
	require.NoError(t, err)
	assert.Equal(t, "/cache/team-a", overridden.Environment["HF_HOME"])
}

func TestRecipe_MergeConfig_MissingRequiredParameter(t *testing.T) {
	r := baseInferenceRecipe()
	r.Environment["API_KEY"] = "{{ api_key }}"
	r.Parameters = map[string]Parameter{
		"api_key": {Description: "upstream API key", Type: "string", Required: true, Location: "environment"},
	}

	_, err := r.MergeConfig(map[string]interface{}{})
	assert.Error(t, err)
}
