package errors

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Fields 将错误展开为结构化日志字段
func Fields(err error) []zap.Field {
	if err == nil {
		return nil
	}
	appErr := GetAppError(err)
	fields := []zap.Field{
		zap.String("error_code", string(appErr.Code)),
		zap.String("error_type", appErr.Type.String()),
		zap.String("error_message", appErr.Message),
	}
	if appErr.Details != nil {
		fields = append(fields, zap.Any("error_details", appErr.Details))
	}
	if appErr.Cause != nil {
		fields = append(fields, zap.String("cause", appErr.Cause.Error()))
	}
	return fields
}

// levelFor 根据错误类型选择日志级别
func levelFor(t ErrorType) zapcore.Level {
	switch t {
	case ErrorTypeValidation:
		return zapcore.InfoLevel
	case ErrorTypeBusiness, ErrorTypeExternal:
		return zapcore.WarnLevel
	default:
		return zapcore.ErrorLevel
	}
}

// LogError 按错误类型选择级别记录错误；系统错误附带调用栈
func LogError(logger *zap.Logger, msg string, err error, fields ...zap.Field) {
	if logger == nil || err == nil {
		return
	}
	appErr := GetAppError(err)
	all := append(Fields(err), fields...)
	if appErr.Type == ErrorTypeSystem {
		all = append(all, zap.Stack("stack_trace"))
	}
	if ce := logger.Check(levelFor(appErr.Type), msg); ce != nil {
		ce.Write(all...)
	}
}
