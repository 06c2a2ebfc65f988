// Package policy 定义离线缓存代理的请求拦截策略（cache-first / network-first），
// 并提供统一的注册与查询入口。
//
// 两种策略共享同一个代理组件，仅在缓存读写顺序与失败处理上不同：
//   - cache-first 面向固定的静态资源集合，保证离线时也总能拿到响应；
//   - network-first 面向需要保鲜的内容，且通过排除模式保证 API 响应不落缓存。
//
// 配置校验与 /-/policies 诊断端均以本包注册表为准。
package policy
