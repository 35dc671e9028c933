package validator

import (
	"context"

	"proxyharvest/internal/shared/logger"
	"proxyharvest/proxypool/model"
)

// Checker 是实际执行存活检测的后端。一次调用处理整批候选。
type Checker interface {
	Name() string
	Check(ctx context.Context, candidates []string) ([]model.ProxyRecord, error)
}

// Validator 把整批候选交给 Checker，并按保留策略过滤结果。
// 后端错误在这里被吸收：记录日志并返回空结果。
type Validator struct {
	checker    Checker
	retainDead bool
}

// NewValidator 创建 Validator。retainDead 为 true 时保留失效条目及其存活标记，
// 否则只返回存活条目，且其标记被统一为 working=true。
func NewValidator(checker Checker, retainDead bool) *Validator {
	return &Validator{
		checker:    checker,
		retainDead: retainDead,
	}
}

// WithRetainDead returns a copy of v sharing its backend but using the given policy.
func (v *Validator) WithRetainDead(retain bool) *Validator {
	return &Validator{checker: v.checker, retainDead: retain}
}

// Validate 对整批候选执行一次检测。空输入直接返回，不触发任何远程调用。
func (v *Validator) Validate(ctx context.Context, candidates []string) []model.ProxyRecord {
	if len(candidates) == 0 {
		return nil
	}

	l := logger.WithComponent("ProxyPool/Validator")
	l.Info().Int("count", len(candidates)).Str("backend", v.checker.Name()).Msg("Starting validation batch...")

	records, err := v.checker.Check(ctx, candidates)
	if err != nil {
		l.Error().Err(err).Str("backend", v.checker.Name()).Int("count", len(candidates)).Msg("Validation call failed, run yields no records.")
		return nil
	}

	out := make([]model.ProxyRecord, 0, len(records))
	for _, r := range records {
		if v.retainDead {
			out = append(out, r)
			continue
		}
		if !r.IsWorking() {
			continue
		}
		r.Working = model.Bool(true)
		out = append(out, r)
	}

	l.Info().Int("returned", len(records)).Int("kept", len(out)).Bool("retain_dead", v.retainDead).Msg("Validation batch finished.")
	return out
}
