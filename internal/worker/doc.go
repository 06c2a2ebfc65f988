// Package worker 实现离线缓存代理实例的生命周期状态机：
// uninstalled → installing → installed → active。
//
// install 阶段把 manifest 中的全部资源抓取进当前版本缓存，任一失败即拒绝安装；
// activate 阶段清理过期版本缓存。每个 Worker 独占一个存储根目录，
// 因此“当前版本之外皆为过期”的清理不会波及其他站点。
package worker
