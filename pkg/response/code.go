package response

// 业务状态码
const (
	CodeSuccess = 0
	CodeError   = 1

	// 会话错误 100xx
	ErrAuthFailed   = 10003
	ErrTokenInvalid = 10004
	ErrNoPermission = 10005
	ErrNoSession    = 10006

	// 动态模块错误 200xx
	ErrNotFound      = 20001
	ErrUploadFailed  = 20002
	ErrRemoteFailure = 20003

	// 系统错误 500xx
	ErrServerInternal  = 50001
	ErrInvalidParam    = 50002
	ErrTooManyRequests = 50003
)
