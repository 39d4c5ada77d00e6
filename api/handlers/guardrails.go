package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/openguardrails/openguardrails-sub000/api"
	"github.com/openguardrails/openguardrails-sub000/guardrail"
	"github.com/openguardrails/openguardrails-sub000/types"
)

// =============================================================================
// 🛡️ 护栏检测 Handler
// =============================================================================

// 租户与应用请求头
const (
	HeaderTenantID      = "X-Tenant-ID"
	HeaderApplicationID = "X-Application-ID"

	// DefaultTenantID 请求未携带租户头时使用的租户
	DefaultTenantID = "default"
)

// GuardrailsHandler 护栏检测处理器
type GuardrailsHandler struct {
	orch   *guardrail.Orchestrator
	logger *zap.Logger
}

// NewGuardrailsHandler 创建护栏检测处理器
func NewGuardrailsHandler(orch *guardrail.Orchestrator, logger *zap.Logger) *GuardrailsHandler {
	return &GuardrailsHandler{
		orch:   orch,
		logger: logger.With(zap.String("component", "guardrails_handler")),
	}
}

// HandleCheck 处理 POST /v1/guardrails 请求。
// 对请求体中的会话执行完整检测流水线，返回处置建议。
func (h *GuardrailsHandler) HandleCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		WriteError(w, http.StatusMethodNotAllowed, CodeInvalidRequest, "method not allowed", h.logger)
		return
	}

	if !ValidateContentType(w, r, h.logger) {
		return
	}

	var req api.CheckRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	if err := req.Validate(); err != nil {
		WriteError(w, http.StatusBadRequest, CodeInvalidRequest, err.Error(), h.logger)
		return
	}

	auth := authFromRequest(r, req)
	result := h.orch.CheckGuardrails(r.Context(), req.ToMessages(), auth)

	WriteJSON(w, http.StatusOK, result)
}

// authFromRequest 从请求头与请求体组装检测身份上下文。
func authFromRequest(r *http.Request, req api.CheckRequest) types.AuthContext {
	tenantID := r.Header.Get(HeaderTenantID)
	if tenantID == "" {
		tenantID = DefaultTenantID
	}
	return types.AuthContext{
		TenantID:      tenantID,
		ApplicationID: r.Header.Get(HeaderApplicationID),
		UserID:        req.UserID,
		Language:      req.Language,
	}
}
