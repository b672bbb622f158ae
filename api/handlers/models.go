package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/BaSui01/ensembleflow/orchestrator"
)

// ModelsHandler 已注册模型列表端点。
type ModelsHandler struct {
	registry *orchestrator.Registry
	weights  map[string]float64
	logger   *zap.Logger
}

// ModelInfo 单个模型的公开信息。
type ModelInfo struct {
	Name   string  `json:"name"`
	Weight float64 `json:"weight"`
}

// NewModelsHandler 创建模型列表处理器。
func NewModelsHandler(registry *orchestrator.Registry, weights map[string]float64, logger *zap.Logger) *ModelsHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ModelsHandler{registry: registry, weights: weights, logger: logger}
}

// HandleModels 处理 GET /v1/models。
func (h *ModelsHandler) HandleModels(w http.ResponseWriter, r *http.Request) {
	names := h.registry.Names()
	models := make([]ModelInfo, 0, len(names))
	for _, name := range names {
		weight := 1.0
		if v, ok := h.weights[name]; ok && v > 0 {
			weight = v
		}
		models = append(models, ModelInfo{Name: name, Weight: weight})
	}
	WriteSuccess(w, models)
}
