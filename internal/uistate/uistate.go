// Package uistate 把 agent runtime 的 SSE 事件归约为前端可渲染的消息列表。
//
// 组成:
//   - event.go     事件类型枚举与归一化 (event / type 双字段)
//   - scanner.go   <think> 与 ```json 分界扫描, 流式与整串共用
//   - fold.go      content_chunk 折叠状态机
//   - dispatch.go  按事件类型分发, 写入 Timeline
//   - history.go   从 raw_events 重建历史
//   - timeline.go  保序消息列表
package uistate
