package recipe

import (
	"fmt"
	"sort"
	"strings"
)

// ScriptPaths are the filesystem paths a script needs on the remote
// login/compute host.
type ScriptPaths struct {
	DefPath        string
	ImagePath      string
	LogDir         string
	RemoteBasePath string
}

// ScriptBuilder renders the batch-job script body for a recipe: an
// environment-export section, an idempotent container-image build
// guard, and a run step. Grounded on the original builder hierarchy's
// three-part script shape (`build_environment_section`,
// `build_container_build_block`, `build_run_block`), collapsed into
// one builder with category-specific branches since Go favors a small
// concrete type with a switch over a deep ABC hierarchy for this size
// of variation.
type ScriptBuilder struct{}

// NewScriptBuilder constructs a ScriptBuilder.
func NewScriptBuilder() *ScriptBuilder {
	return &ScriptBuilder{}
}

// BuildSingleNode renders the full script body for a non-replica-group
// job: environment section, build guard, then the run step.
func (b *ScriptBuilder) BuildSingleNode(r *Recipe, paths ScriptPaths) string {
	var sb strings.Builder
	sb.WriteString("#!/bin/bash\nset -euo pipefail\n\n")
	sb.WriteString(b.environmentSection(r.Environment))
	sb.WriteString("\n\n")
	sb.WriteString(b.buildGuard(paths))
	sb.WriteString("\n")
	sb.WriteString(b.runStep(r, paths, r.DefaultPort()))
	return sb.String()
}

// BuildReplica renders one replica's script body within a replica
// group: the same environment + build guard, but the run step binds
// to a replica-specific port derived from BasePort + index.
func (b *ScriptBuilder) BuildReplica(r *Recipe, paths ScriptPaths, replicaIndex int) string {
	port := r.BasePort + replicaIndex
	env := make(map[string]string, len(r.Environment)+1)
	for k, v := range r.Environment {
		env[k] = v
	}
	env["VLLM_PORT"] = fmt.Sprintf("%d", port)

	var sb strings.Builder
	sb.WriteString("#!/bin/bash\nset -euo pipefail\n\n")
	sb.WriteString(b.environmentSection(env))
	sb.WriteString("\n\n")
	sb.WriteString(b.buildGuard(paths))
	sb.WriteString("\n")
	sb.WriteString(b.runStep(r, paths, port))
	return sb.String()
}

func (b *ScriptBuilder) environmentSection(env map[string]string) string {
	if len(env) == 0 {
		return "# No environment variables"
	}

	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var lines []string
	for _, k := range keys {
		v := env[k]
		lines = append(lines, exportLine(k, v))
	}
	for _, k := range keys {
		v := env[k]
		lines = append(lines, exportLine("APPTAINERENV_"+k, v))
	}
	return strings.Join(lines, "\n")
}

func exportLine(key, value string) string {
	if strings.Contains(value, "${") || strings.Contains(value, "$(") {
		return fmt.Sprintf(`export %s="%s"`, key, value)
	}
	return fmt.Sprintf(`export %s='%s'`, key, value)
}

// buildGuard renders an idempotent image-build step: skip the build
// entirely if the image already exists.
func (b *ScriptBuilder) buildGuard(paths ScriptPaths) string {
	return fmt.Sprintf(`# Build container image if needed
if ! apptainer inspect --all %s >/dev/null 2>&1; then
    echo "Building container image: %s"
    apptainer build --fix-perms --force --disable-cache --no-https %s %s
    if [ $? -ne 0 ]; then
        echo "ERROR: failed to build container image"
        exit 1
    fi
fi
`, paths.ImagePath, paths.ImagePath, paths.ImagePath, paths.DefPath)
}

// runStep renders the container run invocation, binding the workspace
// and log directory and tailoring flags (e.g. --nv for GPU jobs) to
// the recipe's resource request.
func (b *ScriptBuilder) runStep(r *Recipe, paths ScriptPaths, port int) string {
	nvFlag := ""
	if r.Resources.GPU > 0 {
		nvFlag = "--nv"
	}
	workspace := strings.TrimRight(paths.RemoteBasePath, "/")

	return fmt.Sprintf(`echo "Starting container on port %d..."
apptainer run %s --bind %s:/app/logs,%s:/workspace %s
container_exit_code=$?
echo "Container exited with code: $container_exit_code"
if [ $container_exit_code -ne 0 ]; then
    echo "ERROR: container failed"
    exit $container_exit_code
fi
`, port, nvFlag, paths.LogDir, workspace, paths.ImagePath)
}
