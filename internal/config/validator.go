package config

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"

	apperrors "trendlab/internal/errors"
	"trendlab/internal/logger"
)

var structValidator = validator.New()

// Validator 配置验证器
type Validator struct {
	config *Config
}

// NewValidator 创建配置验证器
func NewValidator(config *Config) *Validator {
	return &Validator{
		config: config,
	}
}

// Validate checks struct tags first, then the rules that span fields.
// Every problem is reported in one error.
func (v *Validator) Validate() error {
	var problems []string

	if err := structValidator.Struct(v.config); err != nil {
		if fieldErrs, ok := err.(validator.ValidationErrors); ok {
			for _, fe := range fieldErrs {
				problems = append(problems, fmt.Sprintf("%s: failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
			}
		} else {
			problems = append(problems, err.Error())
		}
	}

	checks := []struct {
		section string
		check   func() error
	}{
		{"logging", v.validateLogging},
		{"data", v.validateData},
		{"strategy", v.validateStrategy},
		{"study", v.validateStudy},
		{"schedule", v.validateSchedule},
	}
	for _, c := range checks {
		if err := c.check(); err != nil {
			problems = append(problems, fmt.Sprintf("%s: %v", c.section, err))
		}
	}

	if len(problems) > 0 {
		return apperrors.New(apperrors.ErrCodeConfig, "配置验证失败").
			WithDetails(strings.Join(problems, "; "))
	}
	return nil
}

// validateLogging 验证日志配置
func (v *Validator) validateLogging() error {
	l := v.config.Logging
	switch l.Level {
	case logger.LevelTrace, logger.LevelDebug, logger.LevelInfo, logger.LevelWarn, logger.LevelError, logger.LevelFatal:
	default:
		return fmt.Errorf("无效的日志级别: %s", l.Level)
	}
	if l.Output == "file" && l.Filename == "" {
		return fmt.Errorf("文件输出需要指定 filename")
	}
	return nil
}

// validateData 验证行情数据配置
func (v *Validator) validateData() error {
	d := v.config.Data
	// csv 路径可由命令行参数提供, 在加载时检查
	if d.Source == SourcePostgres {
		if d.Symbol == "" || d.Interval == "" {
			return fmt.Errorf("postgres source requires symbol and interval")
		}
		if !v.config.Database.Enabled {
			return fmt.Errorf("postgres source requires database.enabled")
		}
	}
	_, err := d.Range()
	return err
}

// validateStrategy 验证策略参数
func (v *Validator) validateStrategy() error {
	return v.config.Strategy.Validate()
}

// validateStudy 验证优化器配置
func (v *Validator) validateStudy() error {
	return v.config.Study.Constraints.Validate()
}

// validateSchedule 验证调度配置
func (v *Validator) validateSchedule() error {
	s := v.config.Schedule
	if !s.Enabled {
		return nil
	}
	if _, err := cron.ParseStandard(s.Cron); err != nil {
		return fmt.Errorf("invalid cron %q: %w", s.Cron, err)
	}
	return nil
}
