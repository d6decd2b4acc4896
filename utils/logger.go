package utils

import (
	"errors"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const serviceName = "algaerithm"

// Logger 全局日志，未初始化时丢弃所有输出
var Logger = zap.NewNop()

// InitLogger release 模式输出JSON，其他模式输出带颜色的控制台日志
func InitLogger(mode string) error {
	var config zap.Config

	if mode == "release" {
		config = zap.NewProductionConfig()
		config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	} else {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	config.InitialFields = map[string]interface{}{"service": serviceName}

	logger, err := config.Build()
	if err != nil {
		return err
	}

	Logger = logger
	return nil
}

// Sync 刷新日志缓冲。stdout/stderr 为终端或管道时 fsync 会失败，忽略这类错误
func Sync() error {
	if Logger == nil {
		return nil
	}
	if err := Logger.Sync(); err != nil && !isStdSyncError(err) {
		return err
	}
	return nil
}

func isStdSyncError(err error) bool {
	return errors.Is(err, syscall.EINVAL) || errors.Is(err, syscall.ENOTTY)
}
