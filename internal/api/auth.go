package api

import (
	"strings"

	"github.com/gin-gonic/gin"
)

// Capability 为调用方权限。
type Capability string

const (
	CapabilityTrade Capability = "trade"
	CapabilityMode  Capability = "mode"
	// CapabilityAdmin 包含全部权限。
	CapabilityAdmin Capability = "admin"
)

// CapabilityHeader 为默认鉴权读取的请求头，逗号分隔。
const CapabilityHeader = "X-Capabilities"

// Authorizer 判断调用方是否拥有某项权限，鉴权本身由上游网关完成。
type Authorizer interface {
	Allowed(c *gin.Context, capability Capability) bool
}

// HeaderAuthorizer 从请求头读取上游已授予的权限。
type HeaderAuthorizer struct{}

func (HeaderAuthorizer) Allowed(c *gin.Context, capability Capability) bool {
	for _, raw := range strings.Split(c.GetHeader(CapabilityHeader), ",") {
		granted := Capability(strings.ToLower(strings.TrimSpace(raw)))
		if granted == capability || granted == CapabilityAdmin {
			return true
		}
	}
	return false
}

// AllowAll 放行所有请求，仅用于本地联调。
type AllowAll struct{}

func (AllowAll) Allowed(*gin.Context, Capability) bool { return true }
