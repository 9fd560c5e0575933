package engine

import (
	"fmt"
	"strings"

	"gocv.io/x/gocv"
)

var netBackends = map[string]gocv.NetBackendType{
	"default":  gocv.NetBackendDefault,
	"halide":   gocv.NetBackendHalide,
	"openvino": gocv.NetBackendOpenVINO,
	"opencv":   gocv.NetBackendOpenCV,
	"vulkan":   gocv.NetBackendVKCOM,
	"cuda":     gocv.NetBackendCUDA,
}

var netTargets = map[string]gocv.NetTargetType{
	"cpu":      gocv.NetTargetCPU,
	"fp32":     gocv.NetTargetFP32,
	"fp16":     gocv.NetTargetFP16,
	"vpu":      gocv.NetTargetVPU,
	"vulkan":   gocv.NetTargetVulkan,
	"fpga":     gocv.NetTargetFPGA,
	"cuda":     gocv.NetTargetCUDA,
	"cudafp16": gocv.NetTargetCUDAFP16,
}

// ParseBackend maps a config name onto a gocv DNN backend. Empty means default.
func ParseBackend(name string) (gocv.NetBackendType, error) {
	if name == "" {
		return gocv.NetBackendDefault, nil
	}
	b, ok := netBackends[strings.ToLower(name)]
	if !ok {
		return gocv.NetBackendDefault, fmt.Errorf("unsupported backend: %s", name)
	}
	return b, nil
}

// ParseTarget maps a config name onto a gocv DNN target. Empty means cpu.
func ParseTarget(name string) (gocv.NetTargetType, error) {
	if name == "" {
		return gocv.NetTargetCPU, nil
	}
	t, ok := netTargets[strings.ToLower(name)]
	if !ok {
		return gocv.NetTargetCPU, fmt.Errorf("unsupported target: %s", name)
	}
	return t, nil
}
