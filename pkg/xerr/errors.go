package xerr

import (
	"errors"
	"fmt"
)

// 常用错误码定义（跟 HTTP 状态码对齐，业务码见 common.Fail）
const (
	OK                 = 200
	RequestParamsError = 400
	RecordNotFound     = 404
	NoData             = 404
	TooManyRequests    = 429
	ServerCommonError  = 500
	DbError            = 501
	Unavailable        = 503
)

type CodeError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	err  error
}

func (e *CodeError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("ErrCode:%d, Msg:%s, Cause:%v", e.Code, e.Msg, e.err)
	}
	return fmt.Sprintf("ErrCode:%d, Msg:%s", e.Code, e.Msg)
}

func (e *CodeError) Unwrap() error { return e.err }

func New(code int, msg string) error {
	return &CodeError{Code: code, Msg: msg}
}

func NewErrCode(code int) error {
	return &CodeError{Code: code, Msg: MapErrMsg(code)}
}

// Wrap 保留原始错误链，外面可以继续 errors.Is
func Wrap(err error, code int, msg string) error {
	if err == nil {
		return nil
	}
	return &CodeError{Code: code, Msg: msg, err: err}
}

// CodeOf 取错误码；不是 CodeError 的一律当 500
func CodeOf(err error) int {
	if err == nil {
		return OK
	}
	var ce *CodeError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ServerCommonError
}

func MapErrMsg(code int) string {
	switch code {
	case ServerCommonError:
		return "服务器开小差了"
	case RequestParamsError:
		return "参数错误"
	case DbError:
		return "数据库繁忙"
	case RecordNotFound:
		return "记录不存在"
	case Unavailable:
		return "服务暂不可用"
	case TooManyRequests:
		return "请求过于频繁"
	default:
		return "未知错误"
	}
}
