// Package storage 定义日记、练习、治疗记录与工作流规划的文档存储接口。
//
// memory 子包提供带可选 JSON Lines 持久化的内存实现，sqldb 子包基于
// database/sql 支持 MySQL 与 SQLite。
package storage
