/*
 * @Author: kamalyes 501893067@qq.com
 * @Date: 2026-02-16 22:12:08
 * @LastEditors: kamalyes 501893067@qq.com
 * @LastEditTime: 2026-02-16 22:12:08
 * @FilePath: \go-quantx\logger.go
 * @Description: go-quantx 日志接口，直接复用 go-logger
 *
 * Copyright (c) 2026 by kamalyes, All Rights Reserved.
 */
package quantx

import (
	"time"

	"github.com/kamalyes/go-logger"
)

// NewQuantxLogger 创建新的Quantx日志器，基于 go-logger
func NewQuantxLogger(config *logger.LogConfig) logger.ILogger {
	return logger.NewLogger(config)
}

// NewDefaultQuantxLogger 创建默认配置的Quantx日志器
func NewDefaultQuantxLogger() logger.ILogger {
	config := logger.DefaultConfig().
		WithLevel(logger.INFO).
		WithPrefix("[QUANTX] ").
		WithShowCaller(false).
		WithColorful(true).
		WithTimeFormat(time.DateTime)

	return logger.NewLogger(config)
}
