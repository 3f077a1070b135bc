package errcode

// 错误码约定：
// - 0：无错误
// - 4xxx：部分失败，流程继续（例如某个分类抓取失败，其余分类照常写入缓存）
// - 5xxx：系统错误（需要中断流程）
const (
	OK             = 0
	CategoryFailed = 4001
	CloudSyncFail  = 4002
	SystemError    = 5000
)
