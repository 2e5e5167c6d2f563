/*
 * @Author: kamalyes 501893067@qq.com
 * @Date: 2026-02-24 19:05:12
 * @LastEditors: kamalyes 501893067@qq.com
 * @LastEditTime: 2026-03-08 22:47:29
 * @FilePath: \go-quantx\task_id.go
 * @Description: 任务ID生成器
 *
 * 生成形如 task-20260315103000-42 的任务标识：
 * 时间前缀便于人工排查日志，原子自增序号保证同一进程内绝不重复
 *
 * Copyright (c) 2026 by kamalyes, All Rights Reserved.
 */
package quantx

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/kamalyes/go-toolbox/pkg/mathx"
)

// TaskIDGenerator 任务ID生成器
type TaskIDGenerator struct {
	prefix     string
	timeFormat string
	seq        atomic.Int64
}

// NewTaskIDGenerator 创建任务ID生成器
func NewTaskIDGenerator() *TaskIDGenerator {
	return &TaskIDGenerator{
		prefix:     "task",
		timeFormat: "20060102150405",
	}
}

// WithPrefix 设置ID前缀（链式调用）
func (g *TaskIDGenerator) WithPrefix(prefix string) *TaskIDGenerator {
	g.prefix = mathx.IfNotEmpty(prefix, g.prefix)
	return g
}

// WithTimeFormat 设置时间前缀格式（链式调用）
func (g *TaskIDGenerator) WithTimeFormat(format string) *TaskIDGenerator {
	g.timeFormat = mathx.IfNotEmpty(format, g.timeFormat)
	return g
}

// Next 生成下一个任务ID
func (g *TaskIDGenerator) Next() string {
	return fmt.Sprintf("%s-%s-%d", g.prefix, time.Now().Format(g.timeFormat), g.seq.Add(1))
}
