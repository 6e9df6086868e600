package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrOrderNotFound  = errors.New("订单不存在")
	ErrRefundNotFound = errors.New("退款记录不存在")
	ErrNotOwner       = errors.New("无权操作该订单")
	ErrNotAdmin       = errors.New("需要管理员权限")
	ErrRefundInFlight = errors.New("该订单已有退款正在处理中")
)

// ValidationError 表示请求参数或业务前置条件不满足，调用方不应重试。
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

// ErrValidation 构造一个校验错误。
func ErrValidation(reason string) error {
	return &ValidationError{Reason: reason}
}

// InvalidTransitionError 表示订单当前状态不允许执行指定迁移。
// 错误消息面向用户，携带状态文案而不是内部状态码。
type InvalidTransitionError struct {
	From       Status
	Transition string
}

func (e *InvalidTransitionError) Error() string {
	t, ok := Transitions[e.Transition]
	if !ok {
		return fmt.Sprintf("未定义的转换: %s", e.Transition)
	}
	return fmt.Sprintf("无法从 %s 状态执行 %s 操作", e.From.Text(), t.FriendlyName)
}

// TransientStoreError 包装存储层的临时故障，写入方可以有限重试。
type TransientStoreError struct {
	Op  string
	Err error
}

func (e *TransientStoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *TransientStoreError) Unwrap() error { return e.Err }

// GatewayError 是支付网关返回的业务错误。
type GatewayError struct {
	Code    string // 如 SYSTEMERROR、NOTENOUGH
	Message string
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("gateway error %s: %s", e.Code, e.Message)
}

// Retryable 区分可重试的临时错误与必须人工介入的终态错误。
func (e *GatewayError) Retryable() bool {
	switch e.Code {
	case "SYSTEMERROR", "FREQUENCY_LIMITED", "BIZERR_NEED_RETRY":
		return true
	}
	return false
}

// Severity 是商家通知的级别。
type Severity string

const (
	SeverityInfo    Severity = "INFO"
	SeverityWarning Severity = "WARNING"
	SeverityError   Severity = "ERROR"
)

// ErrorAdvice 是分层错误信息：用户只看到安抚性的 UserMessage，
// 商家通知携带完整的 MerchantMessage 和处理指引。
type ErrorAdvice struct {
	UserMessage      string
	MerchantMessage  string
	MerchantGuidance []string
	ActionRequired   bool
	Severity         Severity
	OriginalError    string
	OriginalCode     string
}

var gatewayErrorAdvice = map[string]ErrorAdvice{
	"sub_mch_id is not bound.": {
		UserMessage:     "退款遇到临时问题，系统正在重新处理",
		MerchantMessage: "微信支付商户配置异常：子商户号未绑定",
		MerchantGuidance: []string{
			"请登录微信支付商户平台检查子商户号配置",
			"确认子商户号已正确绑定到主商户号",
			"如需帮助请联系微信支付客服：400-900-9665",
			"或联系平台技术支持",
		},
		ActionRequired: true,
		Severity:       SeverityError,
	},
	"NOTENOUGH": {
		UserMessage:     "退款遇到临时问题，系统正在重新处理",
		MerchantMessage: "微信支付商户账户余额不足，无法完成退款",
		MerchantGuidance: []string{
			"请立即登录微信支付商户平台充值",
			"建议保持账户余额充足以确保退款正常处理",
			"充值完成后，系统将自动重新处理退款",
			"如有疑问请联系微信支付客服",
		},
		ActionRequired: true,
		Severity:       SeverityWarning,
	},
	"FREQUENCY_LIMITED": {
		UserMessage:     "系统繁忙，正在重新为您处理",
		MerchantMessage: "微信支付接口调用频率受限",
		MerchantGuidance: []string{
			"请稍等片刻，系统将自动重试",
			"如持续出现此问题，请检查接口调用频率",
			"建议优化退款处理流程，避免频繁调用",
		},
		Severity: SeverityInfo,
	},
	"SYSTEMERROR": {
		UserMessage:     "系统繁忙，正在重新为您处理",
		MerchantMessage: "微信支付系统临时异常",
		MerchantGuidance: []string{
			"这是微信支付系统的临时问题",
			"系统将自动重试，无需手动处理",
			"如问题持续请联系平台客服",
		},
		Severity: SeverityInfo,
	},
	"PARAM_ERROR": {
		UserMessage:     "退款遇到临时问题，系统正在重新处理",
		MerchantMessage: "微信支付参数配置错误",
		MerchantGuidance: []string{
			"请检查微信支付相关配置参数",
			"确认商户号、密钥等信息正确",
			"如需技术支持请联系平台开发团队",
		},
		ActionRequired: true,
		Severity:       SeverityError,
	},
}

var genericErrorAdvice = map[string]ErrorAdvice{
	"network_error": {
		UserMessage:      "网络连接异常，正在重新处理",
		MerchantMessage:  "网络连接超时",
		MerchantGuidance: []string{"系统将自动重试，无需手动处理"},
		Severity:         SeverityInfo,
	},
	"timeout": {
		UserMessage:      "处理超时，正在重新为您处理",
		MerchantMessage:  "退款处理超时",
		MerchantGuidance: []string{"系统将自动重试，如问题持续请联系客服"},
		Severity:         SeverityWarning,
	},
}

// AdviceFor 把任意错误映射到分层提示。先按网关错误码/消息匹配，
// 再匹配通用错误，都未命中时给出兜底文案。
func AdviceFor(err error) ErrorAdvice {
	msg := ""
	code := ""
	if err != nil {
		msg = err.Error()
	}
	var ge *GatewayError
	if errors.As(err, &ge) {
		code = ge.Code
	}

	for key, advice := range gatewayErrorAdvice {
		if code == key || strings.Contains(msg, key) {
			advice.OriginalError = msg
			advice.OriginalCode = code
			return advice
		}
	}
	for key, advice := range genericErrorAdvice {
		if code == key || strings.Contains(msg, key) {
			advice.OriginalError = msg
			advice.OriginalCode = code
			return advice
		}
	}

	return ErrorAdvice{
		UserMessage:     "处理遇到临时问题，系统正在重新处理",
		MerchantMessage: "订单处理异常",
		MerchantGuidance: []string{
			"如问题持续出现，请联系平台客服",
			"提供订单号以便快速定位问题",
		},
		Severity:      SeverityWarning,
		OriginalError: msg,
		OriginalCode:  code,
	}
}
