/*
 * @Author: kamalyes 501893067@qq.com
 * @Date: 2026-02-16 22:05:40
 * @LastEditors: kamalyes 501893067@qq.com
 * @LastEditTime: 2026-02-16 22:05:40
 * @FilePath: \go-quantx\validate.go
 * @Description: 存储与队列操作的通用验证
 *
 * Copyright (c) 2026 by kamalyes, All Rights Reserved.
 */
package quantx

import "time"

// ValidateStoreKey 验证存储键是否有效
func ValidateStoreKey(key string) error {
	if key == "" {
		return ErrInvalidKey
	}
	return nil
}

// ValidateValue 验证值是否有效
func ValidateValue(value []byte) error {
	if value == nil {
		return ErrInvalidValue
	}
	return nil
}

// ValidateTTL 验证 TTL 是否有效（允许 -1 表示无限期）
func ValidateTTL(ttl time.Duration) error {
	if ttl < -1 {
		return ErrInvalidTTL
	}
	return nil
}

// ValidateClosed 验证组件是否已关闭
func ValidateClosed(closed bool) error {
	if closed {
		return ErrClosed
	}
	return nil
}

// ValidateBasicOp 验证基本操作的参数（检查键、组件状态）
func ValidateBasicOp(key string, closed bool) error {
	if err := ValidateStoreKey(key); err != nil {
		return err
	}
	if err := ValidateClosed(closed); err != nil {
		return err
	}
	return nil
}

// ValidateWriteOp 验证写操作的参数（检查键、值、TTL、组件状态）
func ValidateWriteOp(key string, value []byte, ttl time.Duration, closed bool) error {
	if err := ValidateBasicOp(key, closed); err != nil {
		return err
	}
	if err := ValidateValue(value); err != nil {
		return err
	}
	if err := ValidateTTL(ttl); err != nil {
		return err
	}
	return nil
}
