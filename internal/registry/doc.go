// Package registry 管理智能体目录：内置的注册元数据、README 生成与渲染、
// 名称与地址之间的映射，以及向外部目录服务注册智能体的客户端。
package registry
