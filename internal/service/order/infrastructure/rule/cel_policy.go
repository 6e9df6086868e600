package rule

import (
	"context"
	"fmt"

	"github.com/google/cel-go/cel"

	"github.com/ginkoc/wxcloud-little-store/internal/service/order/domain/port"
)

// DefaultRefundExpression 是默认的退款资格规则：
// 金额合法，且普通用户在支付后72小时内申请，管理员不受时限约束。
const DefaultRefundExpression = `refundFee > 0 && refundFee <= totalFee && isPaid && (isAdmin || hoursSincePaid <= 72.0)`

// CELRefundPolicy 以 CEL 表达式实现 port.RefundPolicy。
// 表达式从配置下发，调整退款规则不需要发版。
type CELRefundPolicy struct {
	program cel.Program
}

// NewCELRefundPolicy 编译表达式，表达式必须产出布尔值。
func NewCELRefundPolicy(expression string) (*CELRefundPolicy, error) {
	if expression == "" {
		expression = DefaultRefundExpression
	}
	env, err := cel.NewEnv(
		cel.Variable("status", cel.StringType),
		cel.Variable("isPaid", cel.BoolType),
		cel.Variable("totalFee", cel.IntType),
		cel.Variable("refundFee", cel.IntType),
		cel.Variable("hoursSincePaid", cel.DoubleType),
		cel.Variable("isAdmin", cel.BoolType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL env: %w", err)
	}
	ast, issues := env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile refund rule: %w", issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("refund rule must evaluate to bool, got %v", ast.OutputType())
	}
	program, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to build refund rule program: %w", err)
	}
	return &CELRefundPolicy{program: program}, nil
}

func (p *CELRefundPolicy) Allow(ctx context.Context, in port.RefundPolicyInput) (bool, error) {
	out, _, err := p.program.ContextEval(ctx, map[string]interface{}{
		"status":         in.Status,
		"isPaid":         in.IsPaid,
		"totalFee":       in.TotalFee,
		"refundFee":      in.RefundFee,
		"hoursSincePaid": in.HoursSincePaid,
		"isAdmin":        in.IsAdmin,
	})
	if err != nil {
		return false, fmt.Errorf("failed to evaluate refund rule: %w", err)
	}
	allowed, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("unexpected refund rule result type: %T", out.Value())
	}
	return allowed, nil
}
