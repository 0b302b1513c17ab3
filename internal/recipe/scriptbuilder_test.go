package recipe

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScriptBuilder_BuildSingleNode(t *testing.T) {
	r := &Recipe{
		Name:        "qdrant",
		Category:    CategoryVectorDB,
		Ports:       []int{6333},
		Environment: map[string]string{"QDRANT_LOG_LEVEL": "info"},
		Resources:   Resources{Nodes: 1, CPU: 4, Memory: "16G"},
	}
	paths := ScriptPaths{
		DefPath:        "/recipes/vector-db/qdrant.def",
		ImagePath:      "/recipes/vector-db/qdrant.sif",
		LogDir:         "/logs/job-1",
		RemoteBasePath: "/home/user/workspace",
	}

	script := NewScriptBuilder().BuildSingleNode(r, paths)

	assert.Contains(t, script, "export QDRANT_LOG_LEVEL='info'")
	assert.Contains(t, script, "export APPTAINERENV_QDRANT_LOG_LEVEL='info'")
	assert.Contains(t, script, "apptainer inspect --all /recipes/vector-db/qdrant.sif")
	assert.Contains(t, script, "apptainer run  --bind /logs/job-1:/app/logs,/home/user/workspace:/workspace /recipes/vector-db/qdrant.sif")
	assert.NotContains(t, script, "--nv")
}

func TestScriptBuilder_BuildReplica_UsesReplicaPort(t *testing.T) {
	gpuPerReplica := 1
	r := &Recipe{
		Name:          "vllm-llama",
		Category:      CategoryInference,
		Resources:     Resources{GPU: 4},
		GPUPerReplica: &gpuPerReplica,
		BasePort:      8001,
	}
	paths := ScriptPaths{ImagePath: "img.sif", DefPath: "img.def", LogDir: "/logs", RemoteBasePath: "/ws"}

	script := NewScriptBuilder().BuildReplica(r, paths, 2)

	assert.Contains(t, script, "export VLLM_PORT='8003'")
	assert.Contains(t, script, "Starting container on port 8003")
	assert.Contains(t, script, "--nv")
}
